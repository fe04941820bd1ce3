//go:build linux

package radio

import (
	"fmt"
	"os"
	"unsafe"

	"golang.org/x/sys/unix"
)

// spiDevice is a thin wrapper over a Linux /dev/spidevX.Y character device,
// driven with raw ioctl calls rather than a dedicated SPI library: no
// example repo in the retrieval pack carries one, and golang.org/x/sys/unix
// is already part of the dependency closure for other components.
type spiDevice struct {
	fd   int
	file *os.File
}

const (
	spiIOCWrMode   = 0x40016b01
	spiIOCWrBits   = 0x40016b03
	spiIOCWrSpeed  = 0x40046b04
	spiIOCMessage1 = 0x40206b00 // SPI_IOC_MESSAGE(1)
)

// spiIOCTransfer mirrors struct spi_ioc_transfer from linux/spi/spidev.h.
type spiIOCTransfer struct {
	txBuf       uint64
	rxBuf       uint64
	length      uint32
	speedHz     uint32
	delayUsecs  uint16
	bitsPerWord uint8
	csChange    uint8
	txNBits     uint8
	rxNBits     uint8
	pad         uint16
}

func openSPI(path string, speedHz uint32) (*spiDevice, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("radio: open %s: %w", path, err)
	}
	d := &spiDevice{fd: int(f.Fd()), file: f}

	mode := uint8(0)
	if err := ioctl(d.fd, spiIOCWrMode, uintptr(unsafe.Pointer(&mode))); err != nil {
		f.Close()
		return nil, fmt.Errorf("radio: set spi mode: %w", err)
	}
	bits := uint8(8)
	if err := ioctl(d.fd, spiIOCWrBits, uintptr(unsafe.Pointer(&bits))); err != nil {
		f.Close()
		return nil, fmt.Errorf("radio: set spi bits: %w", err)
	}
	if err := ioctl(d.fd, spiIOCWrSpeed, uintptr(unsafe.Pointer(&speedHz))); err != nil {
		f.Close()
		return nil, fmt.Errorf("radio: set spi speed: %w", err)
	}
	return d, nil
}

func ioctl(fd int, req uint, arg uintptr) error {
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), uintptr(req), arg)
	if errno != 0 {
		return errno
	}
	return nil
}

// transfer performs a full-duplex SPI exchange of len(tx) bytes.
func (d *spiDevice) transfer(tx, rx []byte) error {
	if len(tx) != len(rx) {
		return fmt.Errorf("radio: spi transfer length mismatch")
	}
	xfer := spiIOCTransfer{
		txBuf:       uint64(uintptr(unsafe.Pointer(&tx[0]))),
		rxBuf:       uint64(uintptr(unsafe.Pointer(&rx[0]))),
		length:      uint32(len(tx)),
		bitsPerWord: 8,
	}
	return ioctl(d.fd, spiIOCMessage1, uintptr(unsafe.Pointer(&xfer)))
}

func (d *spiDevice) Close() error {
	return d.file.Close()
}

// readReg performs a single-register read transaction.
func (d *spiDevice) readReg(addr byte) byte {
	tx := []byte{addr & 0x7F, 0}
	rx := make([]byte, 2)
	_ = d.transfer(tx, rx)
	return rx[1]
}

// writeReg performs a single-register write transaction.
func (d *spiDevice) writeReg(addr, value byte) {
	tx := []byte{addr | 0x80, value}
	rx := make([]byte, 2)
	_ = d.transfer(tx, rx)
}
