package tui

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/charmbracelet/huh"

	"github.com/tonylturner/xcpmaster/internal/xcp/signal"
)

// CalibrationRequest is the value the user chose to download.
type CalibrationRequest struct {
	Signal signal.Signal
	Value  int64
	Float  float64
}

func (r CalibrationRequest) String() string {
	if r.Signal.Float {
		return fmt.Sprintf("%s = %g", r.Signal.Name, r.Float)
	}
	return fmt.Sprintf("%s = %d", r.Signal.Name, r.Value)
}

// BuildCalibrationForm asks for a signal and a value. The chosen signal
// name is stored under key "signal" and the value under "value".
func BuildCalibrationForm(signals []signal.Signal) *huh.Form {
	options := make([]huh.Option[string], 0, len(signals))
	for _, s := range signals {
		label := fmt.Sprintf("%s (0x%08X, %d bytes, %s)", s.Name, s.Address, s.Size, s.TypeName)
		options = append(options, huh.NewOption(label, s.Name))
	}
	var name string
	if len(signals) > 0 {
		name = signals[0].Name
	}
	value := ""

	return huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Signal").
				Description("Parameter to calibrate").
				Key("signal").
				Options(options...).
				Value(&name),
			huh.NewInput().
				Title("Value").
				Description("Decimal, 0x hex, or a float for float signals").
				Key("value").
				Value(&value).
				Validate(func(v string) error {
					sig, ok := findSignal(signals, name)
					if !ok {
						return errors.New("select a signal")
					}
					_, err := parseCalibrationValue(sig, v)
					return err
				}),
		),
	)
}

// CalibrationFromForm reads a completed form.
func CalibrationFromForm(form *huh.Form, signals []signal.Signal) (CalibrationRequest, error) {
	return NewCalibrationRequest(signals, form.GetString("signal"), form.GetString("value"))
}

// NewCalibrationRequest parses value for the named signal. Integers accept
// 0x and 0o prefixes; float signals take a decimal float.
func NewCalibrationRequest(signals []signal.Signal, name, value string) (CalibrationRequest, error) {
	name = strings.TrimSpace(name)
	sig, ok := findSignal(signals, name)
	if !ok {
		return CalibrationRequest{}, fmt.Errorf("unknown signal %q", name)
	}
	return parseCalibrationValue(sig, value)
}

// RunCalibrationForm shows the form on the terminal and returns the choice.
func RunCalibrationForm(signals []signal.Signal) (CalibrationRequest, error) {
	if len(signals) == 0 {
		return CalibrationRequest{}, errors.New("no signals configured")
	}
	form := BuildCalibrationForm(signals)
	if err := form.Run(); err != nil {
		return CalibrationRequest{}, err
	}
	return CalibrationFromForm(form, signals)
}

func findSignal(signals []signal.Signal, name string) (signal.Signal, bool) {
	for _, s := range signals {
		if s.Name == name {
			return s, true
		}
	}
	return signal.Signal{}, false
}

func parseCalibrationValue(sig signal.Signal, raw string) (CalibrationRequest, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return CalibrationRequest{}, errors.New("value is required")
	}
	req := CalibrationRequest{Signal: sig}
	if sig.Float {
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return req, fmt.Errorf("invalid float %q", raw)
		}
		req.Float = f
		return req, nil
	}
	v, err := strconv.ParseInt(raw, 0, 64)
	if err != nil {
		return req, fmt.Errorf("invalid integer %q", raw)
	}
	req.Value = v
	return req, nil
}
