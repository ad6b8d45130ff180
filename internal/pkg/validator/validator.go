package validator

import (
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Validator instance
var validate *validator.Validate

func init() {
	validate = validator.New()

	// Use JSON tag names in error messages
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	registerCustomValidations()
}

func registerCustomValidations() {
	// Payment gateway validation
	validate.RegisterValidation("gateway", func(fl validator.FieldLevel) bool {
		gateway := fl.Field().String()
		for _, g := range []string{"kaspi", "robokassa"} {
			if gateway == g {
				return true
			}
		}
		return false
	})

	// Money amount: digits with optional two decimals
	validate.RegisterValidation("money", func(fl validator.FieldLevel) bool {
		raw := fl.Field().String()
		if raw == "" {
			return false
		}
		whole, frac, found := strings.Cut(raw, ".")
		if found && (len(frac) == 0 || len(frac) > 2) {
			return false
		}
		if whole == "" {
			return false
		}
		for _, r := range whole + frac {
			if r < '0' || r > '9' {
				return false
			}
		}
		return true
	})
}

// Validate validates a struct and returns a map of field errors
func Validate(s interface{}) map[string]string {
	err := validate.Struct(s)
	if err == nil {
		return nil
	}

	errors := make(map[string]string)
	for _, err := range err.(validator.ValidationErrors) {
		field := err.Field()
		switch err.Tag() {
		case "required":
			errors[field] = "This field is required"
		case "min":
			errors[field] = "Value is below the allowed minimum"
		case "max":
			errors[field] = "Value is above the allowed maximum"
		case "gateway":
			errors[field] = "Unknown payment gateway"
		case "money":
			errors[field] = "Invalid money amount"
		default:
			errors[field] = "Invalid value"
		}
	}
	return errors
}
