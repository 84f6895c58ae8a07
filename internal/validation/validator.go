// Package validation provides plausibility checks for decoded P1 telegrams.
package validation

import (
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/resident-x/go-p1/internal/domain"
	"github.com/rs/zerolog"
)

// ValidationLevel defines the strictness of validation rules.
type ValidationLevel int

const (
	ValidationLevelBasic ValidationLevel = iota
	ValidationLevelStandard
	ValidationLevelStrict
)

// String returns the string representation of the validation level.
func (vl ValidationLevel) String() string {
	switch vl {
	case ValidationLevelBasic:
		return "basic"
	case ValidationLevelStandard:
		return "standard"
	case ValidationLevelStrict:
		return "strict"
	default:
		return "unknown"
	}
}

// ParseValidationLevel maps a configured name to a level.
func ParseValidationLevel(s string) (ValidationLevel, error) {
	switch strings.ToLower(s) {
	case "basic":
		return ValidationLevelBasic, nil
	case "standard", "":
		return ValidationLevelStandard, nil
	case "strict":
		return ValidationLevelStrict, nil
	default:
		return ValidationLevelStandard, fmt.Errorf("unknown validation level %q", s)
	}
}

// Severities used by the default rules.
const (
	SeverityWarning = "warning"
	SeverityError   = "error"
)

// Plausibility bounds in raw register units.
const (
	MinVoltageRaw = 1900  // 190.0 V
	MaxVoltageRaw = 2700  // 270.0 V
	MaxTotalDelta = 10000 // 10 kWh or 10 m³ between consecutive telegrams
)

// ValidationError represents a validation error with severity and context.
type ValidationError struct {
	Type     string
	Severity string
	Message  string
	Field    string
	Value    interface{}
}

// Error implements the error interface.
func (ve *ValidationError) Error() string {
	return fmt.Sprintf("%s validation error in %s: %s", ve.Severity, ve.Field, ve.Message)
}

// ValidationResult contains the result of a validation check.
type ValidationResult struct {
	Valid      bool
	Errors     []*ValidationError
	Warnings   []*ValidationError
	Confidence float64 // 0.0-1.0 confidence in data plausibility
}

// HasCriticalErrors returns true if there are any error-level findings.
func (vr *ValidationResult) HasCriticalErrors() bool {
	for _, err := range vr.Errors {
		if err.Severity == SeverityError {
			return true
		}
	}
	return false
}

// HasWarnings returns true if there are any validation warnings.
func (vr *ValidationResult) HasWarnings() bool {
	return len(vr.Warnings) > 0
}

// Summary returns a summary of the validation result.
func (vr *ValidationResult) Summary() string {
	if vr.Valid && !vr.HasWarnings() {
		return fmt.Sprintf("Valid (confidence: %.2f)", vr.Confidence)
	}

	var parts []string
	if !vr.Valid {
		parts = append(parts, fmt.Sprintf("%d errors", len(vr.Errors)))
	}
	if vr.HasWarnings() {
		parts = append(parts, fmt.Sprintf("%d warnings", len(vr.Warnings)))
	}

	return fmt.Sprintf("%s (confidence: %.2f)", strings.Join(parts, ", "), vr.Confidence)
}

// TelegramRule checks a telegram, optionally against the previously accepted
// one (nil for the first telegram).
type TelegramRule struct {
	Name        string
	Description string
	Level       ValidationLevel
	Check       func(current, previous *domain.Telegram, now time.Time) []*ValidationError
}

// SanityValidator rejects telegrams whose content is implausible even though
// the frame passed its CRC.
type SanityValidator struct {
	mu     sync.RWMutex
	level  ValidationLevel
	rules  []*TelegramRule
	logger zerolog.Logger
	now    func() time.Time

	validationsPerformed atomic.Int64
	errorsFound          atomic.Int64
	warningsFound        atomic.Int64
	rejected             atomic.Int64
}

// NewSanityValidator creates a validator with the default rule set.
func NewSanityValidator(level ValidationLevel, logger zerolog.Logger) *SanityValidator {
	validator := &SanityValidator{
		level:  level,
		logger: logger.With().Str("component", "validator").Logger(),
		now:    time.Now,
	}
	validator.rules = defaultRules()
	return validator
}

// Validate applies every rule enabled at the current level. Error telegrams
// carry no measurements and are always valid.
func (sv *SanityValidator) Validate(current, previous *domain.Telegram) *ValidationResult {
	sv.validationsPerformed.Add(1)

	result := &ValidationResult{
		Valid:      true,
		Errors:     make([]*ValidationError, 0),
		Warnings:   make([]*ValidationError, 0),
		Confidence: 1.0,
	}
	if current == nil || !current.OK() {
		return result
	}
	if previous != nil && !previous.OK() {
		previous = nil
	}

	sv.mu.RLock()
	level := sv.level
	rules := sv.rules
	sv.mu.RUnlock()

	now := sv.now()
	for _, rule := range rules {
		if rule.Level > level {
			continue
		}
		for _, err := range rule.Check(current, previous, now) {
			sv.addValidationError(result, err)
		}
	}

	if !result.Valid {
		sv.rejected.Add(1)
	}

	sv.logger.Debug().
		Int("errors", len(result.Errors)).
		Int("warnings", len(result.Warnings)).
		Float64("confidence", result.Confidence).
		Msg("Telegram validation completed")

	return result
}

// addValidationError adds a validation error to the result and updates metrics.
func (sv *SanityValidator) addValidationError(result *ValidationResult, err *ValidationError) {
	if err.Severity == SeverityWarning {
		result.Warnings = append(result.Warnings, err)
		sv.warningsFound.Add(1)
		result.Confidence *= 0.95
		return
	}
	result.Errors = append(result.Errors, err)
	sv.errorsFound.Add(1)
	result.Valid = false
	result.Confidence *= 0.5
}

func defaultRules() []*TelegramRule {
	return []*TelegramRule{
		{
			Name:        "tariff_code",
			Description: "Tariff must be 1 or 2",
			Level:       ValidationLevelBasic,
			Check:       checkTariff,
		},
		{
			Name:        "voltage_range",
			Description: "Reported phase voltages must be within 190-270 V",
			Level:       ValidationLevelStandard,
			Check:       checkVoltage,
		},
		{
			Name:        "total_delta",
			Description: "Energy and gas totals may move less than 10 units between telegrams",
			Level:       ValidationLevelStandard,
			Check:       checkTotalDeltas,
		},
		{
			Name:        "timestamp_order",
			Description: "Meter time must not go backwards or run a day ahead",
			Level:       ValidationLevelStrict,
			Check:       checkTimestamp,
		},
		{
			Name:        "uniform_measurements",
			Description: "Detects telegrams where every reported value is zero",
			Level:       ValidationLevelStrict,
			Check:       checkUniform,
		},
	}
}

func checkTariff(current, _ *domain.Telegram, _ time.Time) []*ValidationError {
	m, ok := current.Present(domain.Tariff)
	if !ok {
		return []*ValidationError{{
			Type:     "data_integrity",
			Severity: SeverityWarning,
			Message:  "tariff not reported",
			Field:    string(domain.Tariff),
		}}
	}
	if m.Raw != 1 && m.Raw != 2 {
		return []*ValidationError{{
			Type:     "data_integrity",
			Severity: SeverityError,
			Message:  fmt.Sprintf("unknown tariff code %d", m.Raw),
			Field:    string(domain.Tariff),
			Value:    m.Raw,
		}}
	}
	return nil
}

func checkVoltage(current, _ *domain.Telegram, _ time.Time) []*ValidationError {
	var errs []*ValidationError
	for _, q := range []domain.Quantity{domain.VoltageL1, domain.VoltageL2, domain.VoltageL3} {
		m, ok := current.Present(q)
		if !ok {
			continue
		}
		if m.Raw <= MinVoltageRaw || m.Raw >= MaxVoltageRaw {
			errs = append(errs, &ValidationError{
				Type:     "data_integrity",
				Severity: SeverityError,
				Message:  fmt.Sprintf("voltage %s V not strictly between 190.0 and 270.0 V", m.Decimal()),
				Field:    string(q),
				Value:    m.Decimal(),
			})
		}
	}
	return errs
}

var totalQuantities = []domain.Quantity{
	domain.MeterDeliveredT1,
	domain.MeterDeliveredT2,
	domain.MeterInjectedT1,
	domain.MeterInjectedT2,
	domain.GasVolume,
}

func checkTotalDeltas(current, previous *domain.Telegram, _ time.Time) []*ValidationError {
	if previous == nil {
		return nil
	}
	var errs []*ValidationError
	for _, q := range totalQuantities {
		cur, ok := current.Present(q)
		if !ok {
			continue
		}
		prev, ok := previous.Present(q)
		if !ok {
			continue
		}
		delta := int64(cur.Raw) - int64(prev.Raw)
		if delta < -MaxTotalDelta || delta >= MaxTotalDelta {
			errs = append(errs, &ValidationError{
				Type:     "data_integrity",
				Severity: SeverityError,
				Message:  fmt.Sprintf("total jumped from %s to %s %s", prev.Decimal(), cur.Decimal(), cur.Unit),
				Field:    string(q),
				Value:    delta,
			})
		}
	}
	return errs
}

func checkTimestamp(current, previous *domain.Telegram, now time.Time) []*ValidationError {
	var errs []*ValidationError
	if current.Timestamp.After(now.Add(24 * time.Hour)) {
		errs = append(errs, &ValidationError{
			Type:     "data_integrity",
			Severity: SeverityError,
			Message:  "timestamp is too far in the future",
			Field:    "timestamp",
			Value:    current.Timestamp,
		})
	}
	if previous != nil && current.Timestamp.Before(previous.Timestamp) {
		errs = append(errs, &ValidationError{
			Type:     "data_integrity",
			Severity: SeverityError,
			Message:  fmt.Sprintf("timestamp went back from %s", previous.Timestamp.Format(time.RFC3339)),
			Field:    "timestamp",
			Value:    current.Timestamp,
		})
	}
	return errs
}

func checkUniform(current, _ *domain.Telegram, _ time.Time) []*ValidationError {
	present := 0
	for _, m := range current.Measurements {
		if !m.Present || m.Quantity == domain.Tariff {
			continue
		}
		present++
		if m.Raw != 0 {
			return nil
		}
	}
	if present == 0 {
		return nil
	}
	return []*ValidationError{{
		Type:     "data_integrity",
		Severity: SeverityWarning,
		Message:  "every reported value is zero (possible corruption)",
		Field:    "measurements",
	}}
}

// GetStatistics returns validation statistics.
func (sv *SanityValidator) GetStatistics() map[string]interface{} {
	sv.mu.RLock()
	defer sv.mu.RUnlock()

	return map[string]interface{}{
		"validations_performed": sv.validationsPerformed.Load(),
		"errors_found":          sv.errorsFound.Load(),
		"warnings_found":        sv.warningsFound.Load(),
		"rejected":              sv.rejected.Load(),
		"validation_level":      sv.level.String(),
		"rules":                 len(sv.rules),
	}
}

// Level returns the active validation level.
func (sv *SanityValidator) Level() ValidationLevel {
	sv.mu.RLock()
	defer sv.mu.RUnlock()
	return sv.level
}

// SetValidationLevel changes the validation level.
func (sv *SanityValidator) SetValidationLevel(level ValidationLevel) {
	sv.mu.Lock()
	old := sv.level
	sv.level = level
	sv.mu.Unlock()

	sv.logger.Info().
		Str("old_level", old.String()).
		Str("new_level", level.String()).
		Msg("Validation level changed")
}

// AddRule adds a custom telegram rule.
func (sv *SanityValidator) AddRule(rule *TelegramRule) {
	sv.mu.Lock()
	sv.rules = append(sv.rules, rule)
	sv.mu.Unlock()

	sv.logger.Debug().
		Str("rule", rule.Name).
		Msg("Added custom telegram rule")
}
