//go:build windows

package openvpn

import (
	"errors"
	"fmt"
	"time"
	"unsafe"

	"golang.org/x/sys/windows"
	"golang.org/x/sys/windows/registry"
)

const pollInterval = 50 * time.Millisecond

var errNoDriver = errors.New("no compatible driver installed")

// install creates a device node for the configured hardware ID, installs
// the best matching driver on it, and returns the NetCfgInstanceId the
// network class installer assigns.
func (d *Driver) install(deadline time.Time) (string, error) {
	classGUID, err := windows.GUIDFromString(NetClassGUID)
	if err != nil {
		return "", err
	}

	devInfo, err := windows.SetupDiCreateDeviceInfoListEx(&classGUID, 0, "")
	if err != nil {
		return "", fmt.Errorf("SetupDiCreateDeviceInfoListEx: %w", err)
	}
	defer devInfo.Close()

	className, err := windows.SetupDiClassNameFromGuidEx(&classGUID, "")
	if err != nil {
		return "", fmt.Errorf("SetupDiClassNameFromGuidEx: %w", err)
	}

	data, err := devInfo.CreateDeviceInfo(className, &classGUID, "", 0, windows.DICD_GENERATE_ID)
	if err != nil {
		return "", fmt.Errorf("CreateDeviceInfo: %w", err)
	}
	if err := devInfo.SetSelectedDevice(data); err != nil {
		return "", fmt.Errorf("SetSelectedDevice: %w", err)
	}
	if err := devInfo.SetDeviceRegistryPropertyString(data, windows.SPDRP_HARDWAREID, d.hwid); err != nil {
		return "", fmt.Errorf("SetDeviceRegistryProperty(HARDWAREID): %w", err)
	}

	if err := d.selectDriver(devInfo, data); err != nil {
		return "", err
	}
	defer devInfo.DestroyDriverInfoList(data, windows.SPDIT_COMPATDRIVER)

	if err := devInfo.CallClassInstaller(windows.DIF_REGISTERDEVICE, data); err != nil {
		return "", fmt.Errorf("DIF_REGISTERDEVICE: %w", err)
	}

	installed := false
	defer func() {
		if !installed {
			if err := removeDevice(devInfo, data); err != nil {
				d.log.Warn("failed to roll back device registration", "error", err)
			}
		}
	}()

	for _, step := range []windows.DI_FUNCTION{
		windows.DIF_REGISTER_COINSTALLERS,
		windows.DIF_INSTALLINTERFACES,
		windows.DIF_INSTALLDEVICE,
	} {
		if err := devInfo.CallClassInstaller(step, data); err != nil {
			return "", fmt.Errorf("class installer step %d: %w", step, err)
		}
	}

	instanceID, err := waitInstanceID(devInfo, data, deadline)
	if err != nil {
		return "", err
	}
	installed = true
	return instanceID, nil
}

// selectDriver picks the newest compatible driver for the hardware ID.
func (d *Driver) selectDriver(devInfo windows.DevInfo, data *windows.DevInfoData) error {
	if err := devInfo.BuildDriverInfoList(data, windows.SPDIT_COMPATDRIVER); err != nil {
		return fmt.Errorf("BuildDriverInfoList: %w", err)
	}

	var best *windows.DrvInfoData
	for i := 0; ; i++ {
		drv, err := devInfo.EnumDriverInfo(data, windows.SPDIT_COMPATDRIVER, i)
		if err != nil {
			if errors.Is(err, windows.ERROR_NO_MORE_ITEMS) {
				break
			}
			continue
		}
		detail, err := devInfo.DriverInfoDetail(data, drv)
		if err != nil || !detail.IsCompatible(d.hwid) {
			continue
		}
		if best == nil || drv.IsNewer(best.DriverDate, best.DriverVersion) {
			best = drv
		}
	}
	if best == nil {
		devInfo.DestroyDriverInfoList(data, windows.SPDIT_COMPATDRIVER)
		return fmt.Errorf("%w for %s", errNoDriver, d.hwid)
	}

	if err := devInfo.SetSelectedDriver(data, best); err != nil {
		devInfo.DestroyDriverInfoList(data, windows.SPDIT_COMPATDRIVER)
		return fmt.Errorf("SetSelectedDriver: %w", err)
	}
	d.log.Debug("driver selected", "description", best.Description(), "version", best.DriverVersion)
	return nil
}

func waitInstanceID(devInfo windows.DevInfo, data *windows.DevInfoData, deadline time.Time) (string, error) {
	for {
		id, err := readInstanceID(devInfo, data)
		if err == nil && id != "" {
			return id, nil
		}
		if time.Now().After(deadline) {
			return "", fmt.Errorf("NetCfgInstanceId did not appear: %v", err)
		}
		time.Sleep(pollInterval)
	}
}

func readInstanceID(devInfo windows.DevInfo, data *windows.DevInfoData) (string, error) {
	h, err := devInfo.OpenDevRegKey(data, windows.DICS_FLAG_GLOBAL, 0, windows.DIREG_DRV, windows.KEY_QUERY_VALUE|windows.KEY_NOTIFY)
	if err != nil {
		return "", err
	}
	key := registry.Key(h)
	defer key.Close()

	raw, _, err := key.GetStringValue("NetCfgInstanceId")
	if err != nil {
		return "", err
	}
	id, ok := canonicalID(raw)
	if !ok {
		return "", fmt.Errorf("malformed NetCfgInstanceId %q", raw)
	}
	return id, nil
}

// remove finds the present device whose NetCfgInstanceId is instanceID
// and removes it.
func (d *Driver) remove(instanceID string) error {
	classGUID, err := windows.GUIDFromString(NetClassGUID)
	if err != nil {
		return err
	}

	devInfo, err := windows.SetupDiGetClassDevsEx(&classGUID, "", 0, windows.DIGCF_PRESENT, 0, "")
	if err != nil {
		return fmt.Errorf("SetupDiGetClassDevsEx: %w", err)
	}
	defer devInfo.Close()

	for i := 0; ; i++ {
		data, err := devInfo.EnumDeviceInfo(i)
		if err != nil {
			if errors.Is(err, windows.ERROR_NO_MORE_ITEMS) {
				return fmt.Errorf("instance %s: %w", instanceID, windows.ERROR_FILE_NOT_FOUND)
			}
			continue
		}
		if !d.hasHardwareID(devInfo, data) {
			continue
		}
		if id, err := readInstanceID(devInfo, data); err != nil || id != instanceID {
			continue
		}
		return removeDevice(devInfo, data)
	}
}

func (d *Driver) hasHardwareID(devInfo windows.DevInfo, data *windows.DevInfoData) bool {
	prop, err := devInfo.DeviceRegistryProperty(data, windows.SPDRP_HARDWAREID)
	if err != nil {
		return false
	}
	switch v := prop.(type) {
	case string:
		return MatchesHardwareID(v, d.hwid)
	case []string:
		for _, s := range v {
			if MatchesHardwareID(s, d.hwid) {
				return true
			}
		}
	}
	return false
}

func removeDevice(devInfo windows.DevInfo, data *windows.DevInfoData) error {
	params := windows.RemoveDeviceParams{
		ClassInstallHeader: *windows.MakeClassInstallHeader(windows.DIF_REMOVE),
		Scope:              windows.DI_REMOVEDEVICE_GLOBAL,
	}
	if err := devInfo.SetClassInstallParams(data, &params.ClassInstallHeader, uint32(unsafe.Sizeof(params))); err != nil {
		return fmt.Errorf("SetClassInstallParams: %w", err)
	}
	if err := devInfo.CallClassInstaller(windows.DIF_REMOVE, data); err != nil {
		return fmt.Errorf("DIF_REMOVE: %w", err)
	}
	return nil
}
