package grbl

import "fmt"

// Setting is one GRBL $n configuration value.
type Setting struct {
	Code        int
	Value       string
	Description string
}

func (s Setting) String() string {
	return fmt.Sprintf("$%d=%s", s.Code, s.Value)
}

// DefaultSettings is a laser-mode GRBL 1.1 configuration.
var DefaultSettings = []Setting{
	{0, "10", "Step pulse time, microseconds"},
	{1, "25", "Step idle delay, milliseconds"},
	{2, "0", "Step pulse invert, mask"},
	{3, "0", "Step direction invert, mask"},
	{4, "0", "Invert step enable pin, boolean"},
	{5, "0", "Invert limit pins, boolean"},
	{6, "0", "Invert probe pin, boolean"},
	{10, "1", "Status report options, mask"},
	{11, "0.010", "Junction deviation, millimeters"},
	{12, "0.002", "Arc tolerance, millimeters"},
	{13, "0", "Report in inches, boolean"},
	{20, "0", "Soft limits enable, boolean"},
	{21, "0", "Hard limits enable, boolean"},
	{22, "0", "Homing cycle enable, boolean"},
	{23, "0", "Homing direction invert, mask"},
	{24, "25.000", "Homing locate feed rate, mm/min"},
	{25, "500.000", "Homing search seek rate, mm/min"},
	{26, "250", "Homing switch debounce delay, milliseconds"},
	{27, "1.000", "Homing switch pull-off distance, millimeters"},
	{30, "1000", "Maximum spindle speed, RPM"},
	{31, "0", "Minimum spindle speed, RPM"},
	{32, "1", "Laser-mode enable, boolean"},
	{100, "250.000", "X-axis steps per millimeter"},
	{101, "250.000", "Y-axis steps per millimeter"},
	{102, "250.000", "Z-axis steps per millimeter"},
	{110, "500.000", "X-axis maximum rate, mm/min"},
	{111, "500.000", "Y-axis maximum rate, mm/min"},
	{112, "500.000", "Z-axis maximum rate, mm/min"},
	{120, "10.000", "X-axis acceleration, mm/sec^2"},
	{121, "10.000", "Y-axis acceleration, mm/sec^2"},
	{122, "10.000", "Z-axis acceleration, mm/sec^2"},
	{130, "200.000", "X-axis maximum travel, millimeters"},
	{131, "200.000", "Y-axis maximum travel, millimeters"},
	{132, "200.000", "Z-axis maximum travel, millimeters"},
}

// LookupSetting returns the default entry for code.
func LookupSetting(code int) (Setting, bool) {
	for _, s := range DefaultSettings {
		if s.Code == code {
			return s, true
		}
	}
	return Setting{}, false
}

// WriteSettings sends each setting as a $n=v line.
func (e *Encoder) WriteSettings(settings []Setting) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, s := range settings {
		if err := e.w.Write(s.String() + "\n"); err != nil {
			return fmt.Errorf("failed to write $%d: %w", s.Code, err)
		}
	}
	return nil
}
