package validation

import (
	"bytes"
	"testing"
	"time"

	"github.com/resident-x/go-p1/internal/domain"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2024, 6, 18, 12, 0, 0, 0, time.UTC)

// telegram builds a plausible telegram; overrides replace raw values and a
// negative override marks the quantity absent.
func telegram(ts time.Time, overrides map[domain.Quantity]int64) *domain.Telegram {
	base := map[domain.Quantity]uint64{
		domain.MeterDeliveredT1:  1234567,
		domain.MeterDeliveredT2:  2345678,
		domain.MeterInjectedT1:   34567,
		domain.MeterInjectedT2:   45678,
		domain.SumPowerDelivered: 1520,
		domain.PowerDeliveredL1:  500,
		domain.PowerDeliveredL2:  520,
		domain.PowerDeliveredL3:  500,
		domain.VoltageL1:         2305,
		domain.VoltageL2:         2311,
		domain.VoltageL3:         2298,
		domain.CurrentL1:         218,
		domain.CurrentL2:         226,
		domain.CurrentL3:         217,
		domain.GasVolume:         3456789,
		domain.Tariff:            1,
	}

	tg := &domain.Telegram{Timestamp: ts, Received: testNow}
	for _, def := range domain.Quantities {
		raw := base[def.Quantity]
		if v, ok := overrides[def.Quantity]; ok {
			if v < 0 {
				tg.Measurements = append(tg.Measurements, domain.AbsentMeasurement(def))
				continue
			}
			raw = uint64(v)
		}
		tg.Measurements = append(tg.Measurements, domain.NewMeasurement(def, raw))
	}
	return tg
}

func newTestValidator(level ValidationLevel) *SanityValidator {
	v := NewSanityValidator(level, zerolog.Nop())
	v.now = func() time.Time { return testNow }
	return v
}

func TestValidationLevel_String(t *testing.T) {
	tests := []struct {
		level    ValidationLevel
		expected string
	}{
		{ValidationLevelBasic, "basic"},
		{ValidationLevelStandard, "standard"},
		{ValidationLevelStrict, "strict"},
		{ValidationLevel(999), "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.level.String())
		})
	}
}

func TestParseValidationLevel(t *testing.T) {
	level, err := ParseValidationLevel("STRICT")
	require.NoError(t, err)
	assert.Equal(t, ValidationLevelStrict, level)

	level, err = ParseValidationLevel("")
	require.NoError(t, err)
	assert.Equal(t, ValidationLevelStandard, level)

	_, err = ParseValidationLevel("paranoid")
	assert.Error(t, err)
}

func TestValidationError(t *testing.T) {
	err := &ValidationError{
		Type:     "data_integrity",
		Severity: "error",
		Message:  "test error",
		Field:    "test_field",
		Value:    "test_value",
	}

	assert.Equal(t, "error validation error in test_field: test error", err.Error())
}

func TestValidationResult(t *testing.T) {
	t.Run("HasCriticalErrors", func(t *testing.T) {
		result := &ValidationResult{
			Errors: []*ValidationError{
				{Severity: SeverityWarning},
				{Severity: SeverityError},
			},
		}
		assert.True(t, result.HasCriticalErrors())

		result.Errors = []*ValidationError{{Severity: SeverityWarning}}
		assert.False(t, result.HasCriticalErrors())
	})

	t.Run("Summary", func(t *testing.T) {
		result := &ValidationResult{Valid: true, Confidence: 0.95}
		assert.Equal(t, "Valid (confidence: 0.95)", result.Summary())

		result = &ValidationResult{
			Valid:      false,
			Errors:     []*ValidationError{{}, {}},
			Warnings:   []*ValidationError{{}},
			Confidence: 0.25,
		}
		assert.Equal(t, "2 errors, 1 warnings (confidence: 0.25)", result.Summary())
	})
}

func TestValidatePlausibleTelegram(t *testing.T) {
	v := newTestValidator(ValidationLevelStrict)
	prev := telegram(testNow.Add(-10*time.Second), nil)
	cur := telegram(testNow, map[domain.Quantity]int64{domain.MeterDeliveredT1: 1234570})

	result := v.Validate(cur, prev)
	assert.True(t, result.Valid, result.Summary())
	assert.Empty(t, result.Warnings)
	assert.Equal(t, 1.0, result.Confidence)
}

func TestTariffRule(t *testing.T) {
	v := newTestValidator(ValidationLevelBasic)

	result := v.Validate(telegram(testNow, map[domain.Quantity]int64{domain.Tariff: 2}), nil)
	assert.True(t, result.Valid)

	result = v.Validate(telegram(testNow, map[domain.Quantity]int64{domain.Tariff: 3}), nil)
	assert.False(t, result.Valid)
	require.Len(t, result.Errors, 1)
	assert.Equal(t, "tariff", result.Errors[0].Field)

	result = v.Validate(telegram(testNow, map[domain.Quantity]int64{domain.Tariff: -1}), nil)
	assert.True(t, result.Valid)
	assert.True(t, result.HasWarnings())
}

func TestVoltageRule(t *testing.T) {
	tests := []struct {
		name  string
		raw   int64
		valid bool
	}{
		{"nominal", 2300, true},
		{"just above lower bound", 1901, true},
		{"just below upper bound", 2699, true},
		{"lower bound", 1900, false},
		{"upper bound", 2700, false},
		{"too low", 1899, false},
		{"too high", 2701, false},
		{"absent phase", -1, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := newTestValidator(ValidationLevelStandard)
			result := v.Validate(telegram(testNow, map[domain.Quantity]int64{domain.VoltageL3: tt.raw}), nil)
			assert.Equal(t, tt.valid, result.Valid, result.Summary())
		})
	}

	// Basic level skips the voltage rule
	v := newTestValidator(ValidationLevelBasic)
	assert.True(t, v.Validate(telegram(testNow, map[domain.Quantity]int64{domain.VoltageL1: 100}), nil).Valid)
}

func TestTotalDeltaRule(t *testing.T) {
	prev := telegram(testNow.Add(-10*time.Second), nil)

	tests := []struct {
		name     string
		quantity domain.Quantity
		raw      int64
		valid    bool
	}{
		{"unchanged", domain.MeterDeliveredT1, 1234567, true},
		{"just below limit", domain.MeterDeliveredT1, 1234567 + 9999, true},
		{"at limit", domain.MeterDeliveredT1, 1234567 + 10000, false},
		{"backwards within limit", domain.MeterInjectedT1, 34567 - 10000, true},
		{"backwards beyond limit", domain.MeterInjectedT1, 34567 - 10001, false},
		{"gas jump", domain.GasVolume, 3456789 + 20000, false},
		{"absent register", domain.MeterDeliveredT2, -1, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := newTestValidator(ValidationLevelStandard)
			cur := telegram(testNow, map[domain.Quantity]int64{tt.quantity: tt.raw})
			result := v.Validate(cur, prev)
			assert.Equal(t, tt.valid, result.Valid, result.Summary())
			if !tt.valid {
				assert.Equal(t, string(tt.quantity), result.Errors[0].Field)
			}
		})
	}

	// Without a previous telegram there is nothing to compare
	v := newTestValidator(ValidationLevelStandard)
	assert.True(t, v.Validate(telegram(testNow, map[domain.Quantity]int64{domain.GasVolume: 0}), nil).Valid)
}

func TestDeltaIgnoresErrorPrevious(t *testing.T) {
	v := newTestValidator(ValidationLevelStandard)
	prev := &domain.Telegram{ErrorCode: domain.ErrorCode{Kind: domain.ErrorTelegramTimeout, Raw: 0x80000000}}
	cur := telegram(testNow, map[domain.Quantity]int64{domain.MeterDeliveredT1: 0})

	assert.True(t, v.Validate(cur, prev).Valid)
}

func TestErrorTelegramIsAlwaysValid(t *testing.T) {
	v := newTestValidator(ValidationLevelStrict)
	result := v.Validate(&domain.Telegram{ErrorCode: domain.ErrorCode{Kind: domain.ErrorBlankTelegram, Raw: 0xFFFFFFFF}}, nil)
	assert.True(t, result.Valid)
}

func TestTimestampRule(t *testing.T) {
	prev := telegram(testNow, nil)

	v := newTestValidator(ValidationLevelStrict)
	result := v.Validate(telegram(testNow.Add(-time.Minute), nil), prev)
	assert.False(t, result.Valid)
	assert.Equal(t, "timestamp", result.Errors[0].Field)

	result = v.Validate(telegram(testNow.Add(25*time.Hour), nil), nil)
	assert.False(t, result.Valid)

	// Standard level does not check meter time
	v = newTestValidator(ValidationLevelStandard)
	assert.True(t, v.Validate(telegram(testNow.Add(-time.Minute), nil), prev).Valid)
}

func TestUniformRule(t *testing.T) {
	zeros := map[domain.Quantity]int64{}
	for _, def := range domain.Quantities {
		zeros[def.Quantity] = 0
	}
	zeros[domain.Tariff] = 1
	for _, q := range []domain.Quantity{domain.VoltageL1, domain.VoltageL2, domain.VoltageL3} {
		zeros[q] = -1
	}

	v := newTestValidator(ValidationLevelStrict)
	result := v.Validate(telegram(testNow, zeros), nil)
	assert.True(t, result.Valid)
	require.True(t, result.HasWarnings())
	assert.Equal(t, "measurements", result.Warnings[0].Field)
	assert.InDelta(t, 0.95, result.Confidence, 1e-9)
}

func TestStatisticsAndLevelChange(t *testing.T) {
	var logs bytes.Buffer
	v := NewSanityValidator(ValidationLevelBasic, zerolog.New(&logs))

	v.Validate(telegram(testNow, nil), nil)
	v.Validate(telegram(testNow, map[domain.Quantity]int64{domain.Tariff: 7}), nil)

	stats := v.GetStatistics()
	assert.Equal(t, int64(2), stats["validations_performed"])
	assert.Equal(t, int64(1), stats["errors_found"])
	assert.Equal(t, int64(1), stats["rejected"])
	assert.Equal(t, "basic", stats["validation_level"])
	assert.Equal(t, 5, stats["rules"])

	v.SetValidationLevel(ValidationLevelStrict)
	assert.Equal(t, ValidationLevelStrict, v.Level())
	assert.Contains(t, logs.String(), `"old_level":"basic"`)
	assert.Contains(t, logs.String(), `"new_level":"strict"`)
}

func TestAddRule(t *testing.T) {
	v := newTestValidator(ValidationLevelBasic)
	v.AddRule(&TelegramRule{
		Name:  "no_injection",
		Level: ValidationLevelBasic,
		Check: func(current, _ *domain.Telegram, _ time.Time) []*ValidationError {
			if m, ok := current.Present(domain.SumPowerInjected); ok && m.Raw > 0 {
				return []*ValidationError{{Severity: SeverityError, Field: "sum_power_injected", Message: "unexpected export"}}
			}
			return nil
		},
	})

	assert.True(t, v.Validate(telegram(testNow, nil), nil).Valid)
	assert.False(t, v.Validate(telegram(testNow, map[domain.Quantity]int64{domain.SumPowerInjected: 10}), nil).Valid)
}
