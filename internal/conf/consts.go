// conf/consts.go hard coded constants
package conf

const (
	SampleRate  = 16000 // node capture sample rate, Hz
	BitDepth    = 16
	NumChannels = 1

	GridWidth  = 32 // mel-spectrogram grid fed to the classifier
	GridHeight = 32
)
