package ics

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"

	"visitical/internal/model"
)

var tagReasons = map[string]string{
	"required":   "is required",
	"min":        "must have at least %s entries",
	"max":        "must be at most %s characters",
	"visitname":  "may only contain letters, digits, spaces and _'./&-",
	"integer":    "must be an integer",
	"mobile":     "is not a valid mobile number",
	"singleline": "must not contain line breaks",
	"nomarker":   "must not contain attendee sub-field markers",
}

type requestValidator struct {
	validate *validator.Validate
}

func newRequestValidator(cfg MatchConfig) *requestValidator {
	v := validator.New()

	// Registration only fails on an empty tag or nil func.
	_ = v.RegisterValidation("visitname", func(fl validator.FieldLevel) bool {
		return matchPattern(cfg, namePattern, strings.TrimSpace(fl.Field().String()))
	})
	_ = v.RegisterValidation("mobile", func(fl validator.FieldLevel) bool {
		return matchPattern(cfg, mobilePattern, strings.TrimSpace(fl.Field().String()))
	})
	_ = v.RegisterValidation("integer", func(fl validator.FieldLevel) bool {
		_, err := strconv.Atoi(strings.TrimSpace(fl.Field().String()))
		return err == nil
	})

	_ = v.RegisterValidation("singleline", func(fl validator.FieldLevel) bool {
		return !strings.ContainsAny(fl.Field().String(), "\r\n")
	})
	_ = v.RegisterValidation("nomarker", func(fl validator.FieldLevel) bool {
		return !hasAttendeeMarker(fl.Field().String())
	})

	return &requestValidator{validate: v}
}

// Validate checks struct tags on req and returns the first violation as *Error.
func (v *requestValidator) Validate(req *model.VisitRequest) error {
	err := v.validate.Struct(req)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return err
	}
	return translateFieldError(fieldErrs[0])
}

func translateFieldError(fe validator.FieldError) error {
	field := fe.StructNamespace()
	if i := strings.IndexByte(field, '.'); i >= 0 {
		field = field[i+1:]
	}

	reason, ok := tagReasons[fe.Tag()]
	if !ok {
		reason = "failed " + fe.Tag() + " check"
	} else if strings.Contains(reason, "%s") {
		reason = fmt.Sprintf(reason, fe.Param())
	}

	switch fe.Tag() {
	case "required", "required_with", "min":
		return validationError(field, reason)
	default:
		return &Error{Kind: KindFormat, Field: field, Reason: reason}
	}
}
