package adi

import "github.com/nasa-jpl/adaqlab/iio"

// MockScales is the scale list reported by the mock ADAQ4224
const MockScales = "0.333333333 0.555555555 2.222222222 6.666666666"

// NewMock returns a mock IIO backend holding an ADAQ4224 at iio:device0 with
// its PGIA set to the lowest gain
func NewMock() *iio.Mock {
	m := iio.NewMock()
	m.AddDevice("iio:device0", DeviceName)
	m.SetDeviceAttr("iio:device0", "sampling_frequency", "2000000")
	m.SetChannelAttr("iio:device0", ChannelID, false, "raw", "in_voltage0_raw", "0")
	m.SetChannelAttr("iio:device0", ChannelID, false, attrScale, fileScale, "0.333333333")
	m.SetChannelAttr("iio:device0", ChannelID, false, attrScaleAvailable, fileScaleAvailable, MockScales)
	return m
}
