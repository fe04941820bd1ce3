package radio

// SX1276 register addresses and mode/IRQ constants, reused from the chip's
// datasheet register map rather than invented here.
const (
	regFIFO        = 0x00
	regOpMode      = 0x01
	regFrfMSB      = 0x06
	regPAConfig    = 0x09
	regOCP         = 0x0B
	regLNA         = 0x0C
	regFIFOPtr     = 0x0D
	regFIFOTxBase  = 0x0E
	regFIFORxBase  = 0x0F
	regFIFORxCurr  = 0x10
	regIRQMask     = 0x11
	regIRQFlags    = 0x12
	regRxBytes     = 0x13
	regModemStat   = 0x18
	regPktSNR      = 0x19
	regPktRSSI     = 0x1A
	regCurrRSSI    = 0x1B
	regHopChan     = 0x1C
	regModemConf1  = 0x1D
	regModemConf2  = 0x1E
	regSymbTimeout = 0x1F
	regPreamble    = 0x21
	regPayLength   = 0x22
	regPayMax      = 0x23
	regFIFORxLast  = 0x25
	regModemConf3  = 0x26
	regPPMCorr     = 0x27
	regFEI         = 0x28
	regDetectOpt   = 0x31
	regDetectThr   = 0x37
	regSync        = 0x39
	regDIOMapping1 = 0x40
	regDIOMapping2 = 0x41
	regVersion     = 0x42
	regTCXO        = 0x4B
	regPADAC       = 0x4D
)

const (
	modeSleep = iota
	modeStandby
	modeFSTx
	modeTx
	modeFSRx
	modeRxCont
	modeRxSingle
	modeCAD
)

const (
	irqRxTimeout = 1 << 7
	irqRxDone    = 1 << 6
	irqCRCErr    = 1 << 5
	irqValidHdr  = 1 << 4
	irqTxDone    = 1 << 3
	irqCADDone   = 1 << 2
	irqFHSSChg   = 1 << 1
	irqCADDetect = 1 << 0
)

const regOpModeLoRa = 0x80 // high bit of OpMode selects LoRa mode over FSK
