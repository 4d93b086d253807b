package api

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator"

	"tablebook/internal/apperr"
)

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	_ = v.RegisterValidation("clock", validateClock)
	_ = v.RegisterValidation("date", validateDate)
	return v
}

// validateClock accepts "HH:MM", including "24:00".
func validateClock(fl validator.FieldLevel) bool {
	s := fl.Field().String()
	if s == "24:00" {
		return true
	}
	_, err := time.Parse("15:04", s)
	return err == nil
}

func validateDate(fl validator.FieldLevel) bool {
	_, err := time.Parse("2006-01-02", fl.Field().String())
	return err == nil
}

// check validates v and turns the first failure into a validation error
// naming the offending field.
func (s *Server) check(v any) error {
	err := s.validate.Struct(v)
	if err == nil {
		return nil
	}
	var vErrors validator.ValidationErrors
	if !errors.As(err, &vErrors) || len(vErrors) == 0 {
		return apperr.Validation("%v", err)
	}
	fe := vErrors[0]
	field := fe.Field()

	var msg string
	switch fe.Tag() {
	case "required":
		msg = "is required"
	case "min", "gte":
		msg = fmt.Sprintf("must be at least %s", fe.Param())
	case "max", "lte":
		msg = fmt.Sprintf("must be at most %s", fe.Param())
	case "gt":
		msg = fmt.Sprintf("must be greater than %s", fe.Param())
	case "email":
		msg = "must be an email address"
	case "clock":
		msg = "must be HH:MM"
	case "date":
		msg = "must be YYYY-MM-DD"
	default:
		msg = "is invalid"
	}
	return apperr.Validation("%s %s", field, msg)
}
