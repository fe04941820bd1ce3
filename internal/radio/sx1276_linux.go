//go:build linux

package radio

import (
	"fmt"
	"time"

	"github.com/warthog618/go-gpiocdev"
)

// SX1276Config names the hardware resources a real node wires the radio
// to: the SPI bus device node, the GPIO chip backing the reset line, and
// its offset on that chip.
type SX1276Config struct {
	SPIDevicePath string // e.g. "/dev/spidev0.0"
	SPISpeedHz    uint32 // 4_000_000 per the reference driver
	GPIOChip      string // e.g. "gpiochip0"
	ResetLine     int
	Params        Params
}

// SX1276 drives a Semtech SX1276-class LoRa transceiver over SPI, with a
// GPIO output line for the chip reset. Transmit and Receive block while
// polling the IRQFlags register over SPI; the DIO0 line is not used.
type SX1276 struct {
	latchedError
	spi    *spiDevice
	reset  *gpiocdev.Line
	params Params
}

// NewSX1276 opens the SPI device and GPIO reset line, resets the chip,
// and writes the configured LoRa parameters into its registers.
func NewSX1276(cfg SX1276Config) (*SX1276, error) {
	spi, err := openSPI(cfg.SPIDevicePath, cfg.SPISpeedHz)
	if err != nil {
		return nil, wrapFailure("open", err)
	}

	line, err := gpiocdev.RequestLine(cfg.GPIOChip, cfg.ResetLine, gpiocdev.AsOutput(1))
	if err != nil {
		spi.Close()
		return nil, wrapFailure("gpio-request", err)
	}

	r := &SX1276{spi: spi, reset: line, params: cfg.Params}
	if err := r.hardReset(); err != nil {
		r.Close()
		return nil, r.latch(wrapFailure("reset", err))
	}
	if err := r.configure(); err != nil {
		r.Close()
		return nil, r.latch(wrapFailure("configure", err))
	}
	return r, nil
}

func (r *SX1276) hardReset() error {
	if err := r.reset.SetValue(0); err != nil {
		return err
	}
	time.Sleep(100 * time.Microsecond)
	if err := r.reset.SetValue(1); err != nil {
		return err
	}
	time.Sleep(5 * time.Millisecond)
	return nil
}

func (r *SX1276) configure() error {
	r.spi.writeReg(regOpMode, regOpModeLoRa|modeSleep)
	time.Sleep(10 * time.Millisecond)

	if v := r.spi.readReg(regVersion); v == 0 || v == 0xFF {
		return fmt.Errorf("radio: unexpected sx1276 version register %#x", v)
	}

	frf := uint64(r.params.FrequencyHz) << 19 / 32000000
	r.spi.writeReg(regFrfMSB, byte(frf>>16))
	r.spi.writeReg(regFrfMSB+1, byte(frf>>8))
	r.spi.writeReg(regFrfMSB+2, byte(frf))

	sf := byte(r.params.SpreadFactor) << 4
	crc := byte(0)
	if r.params.CRCEnabled {
		crc = 1 << 2
	}
	r.spi.writeReg(regModemConf2, sf|crc)

	bwCode := bandwidthCode(r.params.Bandwidth)
	crCode := byte(r.params.CodingRate-4) << 1
	r.spi.writeReg(regModemConf1, bwCode<<4|crCode<<1)

	r.spi.writeReg(regPreamble, 0)
	r.spi.writeReg(regPreamble+1, byte(r.params.PreambleLen))

	r.spi.writeReg(regSync, r.params.SyncWord)

	paConfig := byte(0x80) // PA_BOOST
	power := r.params.TxPowerDBm
	if power > 17 {
		power = 17
	}
	if power < 2 {
		power = 2
	}
	paConfig |= byte(power - 2)
	r.spi.writeReg(regPAConfig, paConfig)

	r.spi.writeReg(regOpMode, regOpModeLoRa|modeStandby)
	return nil
}

func bandwidthCode(hz uint32) byte {
	switch {
	case hz <= 7800:
		return 0
	case hz <= 10400:
		return 1
	case hz <= 15600:
		return 2
	case hz <= 20800:
		return 3
	case hz <= 31250:
		return 4
	case hz <= 41700:
		return 5
	case hz <= 62500:
		return 6
	case hz <= 125000:
		return 7
	case hz <= 250000:
		return 8
	default:
		return 9
	}
}

// Transmit writes the payload into the FIFO and blocks, polling
// IRQFlags.TxDone, until the transmission completes or times out.
func (r *SX1276) Transmit(payload []byte) error {
	if err := r.check(); err != nil {
		return err
	}
	if len(payload) == 0 || len(payload) > 255 {
		return wrapFailure("transmit", fmt.Errorf("radio: payload length %d out of range", len(payload)))
	}

	r.spi.writeReg(regOpMode, regOpModeLoRa|modeStandby)
	r.spi.writeReg(regFIFOPtr, r.spi.readReg(regFIFOTxBase))
	for _, b := range payload {
		r.spi.writeReg(regFIFO, b)
	}
	r.spi.writeReg(regPayLength, byte(len(payload)))
	r.spi.writeReg(regIRQFlags, 0xFF)
	r.spi.writeReg(regOpMode, regOpModeLoRa|modeTx)

	deadline := time.Now().Add(4 * time.Second)
	for {
		flags := r.spi.readReg(regIRQFlags)
		if flags&irqTxDone != 0 {
			r.spi.writeReg(regIRQFlags, irqTxDone)
			return nil
		}
		if time.Now().After(deadline) {
			return r.latch(wrapFailure("transmit", fmt.Errorf("radio: tx timeout")))
		}
		time.Sleep(time.Millisecond)
	}
}

// Receive switches into continuous-RX mode and blocks until a packet
// arrives.
func (r *SX1276) Receive() (*RxPacket, error) {
	if err := r.check(); err != nil {
		return nil, err
	}
	r.spi.writeReg(regIRQFlags, 0xFF)
	r.spi.writeReg(regOpMode, regOpModeLoRa|modeRxCont)

	for {
		flags := r.spi.readReg(regIRQFlags)
		if flags&irqRxDone == 0 {
			time.Sleep(2 * time.Millisecond)
			continue
		}
		r.spi.writeReg(regIRQFlags, 0xFF)
		if flags&irqCRCErr != 0 {
			continue // drop and keep listening, not fatal
		}

		n := int(r.spi.readReg(regRxBytes))
		r.spi.writeReg(regFIFOPtr, r.spi.readReg(regFIFORxCurr))
		payload := make([]byte, n)
		for i := range payload {
			payload[i] = r.spi.readReg(regFIFO)
		}

		rssi := int(r.spi.readReg(regPktRSSI)) - 157
		snrRaw := int8(r.spi.readReg(regPktSNR))
		snr := float64(snrRaw) / 4.0
		return &RxPacket{Payload: payload, RSSI: rssi, SNR: snr}, nil
	}
}

// ScanChannel samples the current RSSI without receiving a packet.
func (r *SX1276) ScanChannel() (int, error) {
	if err := r.check(); err != nil {
		return 0, err
	}
	r.spi.writeReg(regOpMode, regOpModeLoRa|modeRxCont)
	time.Sleep(listenBeforeTalk)
	rssi := int(r.spi.readReg(regCurrRSSI)) - 157
	return rssi, nil
}

func (r *SX1276) Sleep() error {
	if err := r.check(); err != nil {
		return err
	}
	r.spi.writeReg(regOpMode, regOpModeLoRa|modeSleep)
	return nil
}

func (r *SX1276) Standby() error {
	if err := r.check(); err != nil {
		return err
	}
	r.spi.writeReg(regOpMode, regOpModeLoRa|modeStandby)
	return nil
}

func (r *SX1276) Close() error {
	if r.reset != nil {
		r.reset.Close()
	}
	if r.spi != nil {
		return r.spi.Close()
	}
	return nil
}
