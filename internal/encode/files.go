package encode

import (
	"fmt"
	"os"
	"path/filepath"
)

// fileSource is the device list shared by the file-backed sources: every
// configured path is one device.
type fileSource struct {
	paths []string
	loop  bool
}

func (s *fileSource) Devices() ([]Device, error) {
	devices := make([]Device, 0, len(s.paths))
	for _, p := range s.paths {
		if _, err := os.Stat(p); err != nil {
			return nil, err
		}
		devices = append(devices, Device{ID: p, Label: filepath.Base(p)})
	}
	return devices, nil
}

// resolve maps a device id to a path. Empty selects the first file.
func (s *fileSource) resolve(deviceID string) (string, error) {
	if deviceID == "" {
		if len(s.paths) == 0 {
			return "", fmt.Errorf("no files configured")
		}
		return s.paths[0], nil
	}
	for _, p := range s.paths {
		if p == deviceID {
			return p, nil
		}
	}
	return "", fmt.Errorf("unknown device %q", deviceID)
}
