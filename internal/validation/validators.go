// Package validation holds the shared validator instance and the custom tags
// used by configuration and manual entry requests.
package validation

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/benvon/timesheet-sync/internal/models"
	"github.com/go-playground/validator/v10"
)

var (
	// Validate is a shared validator instance
	Validate *validator.Validate
)

func init() {
	Validate = validator.New()

	if err := Validate.RegisterValidation("hhmm", validateTimeOfDay); err != nil {
		panic(fmt.Sprintf("failed to register hhmm validator: %v", err))
	}
	if err := Validate.RegisterValidation("distribution", validateDistribution); err != nil {
		panic(fmt.Sprintf("failed to register distribution validator: %v", err))
	}
}

// validateTimeOfDay accepts "HH:MM" wall-clock strings.
func validateTimeOfDay(fl validator.FieldLevel) bool {
	_, err := models.ParseTimeOfDay(fl.Field().String())
	return err == nil
}

func validateDistribution(fl validator.FieldLevel) bool {
	return models.Distribution(fl.Field().String()).Valid()
}

// SanitizeText sanitizes text input by trimming whitespace and removing control characters
func SanitizeText(text string) string {
	text = strings.TrimSpace(text)

	var sanitized strings.Builder
	for _, r := range text {
		if unicode.IsControl(r) && r != '\n' && r != '\t' {
			continue
		}
		sanitized.WriteRune(r)
	}

	return sanitized.String()
}

// ValidateDistribution validates a Distribution string value
func ValidateDistribution(value string) error {
	if !models.Distribution(value).Valid() {
		return fmt.Errorf("invalid distribution: %s (must be 'today', 'tomorrow', 'split', or 'date')", value)
	}
	return nil
}

// FormatErrors flattens validator errors into one readable message.
func FormatErrors(err error) string {
	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return err.Error()
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		if fe.Param() != "" {
			msgs = append(msgs, fmt.Sprintf("%s failed %s=%s", fe.Field(), fe.Tag(), fe.Param()))
			continue
		}
		msgs = append(msgs, fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag()))
	}
	return strings.Join(msgs, "; ")
}
