//go:build rtlsdr

package sdr

import (
	rtl "github.com/jpoirier/gortlsdr"
)

func listRTLSDR() ([]Info, error) {
	count := rtl.GetDeviceCount()
	infos := make([]Info, 0, count)
	for i := 0; i < count; i++ {
		info := Info{
			Index: i,
			Name:  rtl.GetDeviceName(i),
		}
		manufacturer, product, serial, err := rtl.GetDeviceUsbStrings(i)
		if err != nil {
			// The device may be claimed by another process; the name is still known.
			info.Manufacturer, info.Product, info.SerialNumber = "Unknown", "Unknown", "Unknown"
		} else {
			info.Manufacturer, info.Product, info.SerialNumber = manufacturer, product, serial
		}
		infos = append(infos, info)
	}
	return infos, nil
}
