package relaycommon

import (
	"fmt"
	"reflect"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/bookrelay/bookrelay/internal/common/apperrors"
)

var (
	bookingValidator *validator.Validate
	validatorOnce    sync.Once
)

// V returns the shared validator with the booking rules registered.
func V() *validator.Validate {
	validatorOnce.Do(func() {
		v := validator.New(validator.WithRequiredStructEnabled())
		v.RegisterTagNameFunc(func(f reflect.StructField) string {
			name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
			if name == "-" {
				return ""
			}
			return name
		})
		v.RegisterValidation("trainNumber", trainNumberValidator)
		v.RegisterValidation("stationCode", stationCodeValidator)
		v.RegisterValidation("journeyDate", journeyDateValidator)
		bookingValidator = v
	})
	return bookingValidator
}

var (
	trainNumberRe = regexp.MustCompile(`^[0-9]{5}$`)
	stationCodeRe = regexp.MustCompile(`^[A-Z]{1,5}$`)
)

func trainNumberValidator(fl validator.FieldLevel) bool {
	return trainNumberRe.MatchString(fl.Field().String())
}

func stationCodeValidator(fl validator.FieldLevel) bool {
	return stationCodeRe.MatchString(fl.Field().String())
}

// journeyDateValidator accepts a real calendar date in YYYYMMDD form.
func journeyDateValidator(fl validator.FieldLevel) bool {
	s := fl.Field().String()
	if len(s) != 8 {
		return false
	}
	_, err := time.Parse("20060102", s)
	return err == nil
}

// Validate checks b and returns every violation found, or nil. b is expected
// to be normalized.
func (b *BookingRequest) Validate() apperrors.ValidationErrors {
	var ves apperrors.ValidationErrors

	err := V().Struct(b)
	if err != nil {
		validatorErrors, ok := err.(validator.ValidationErrors)
		if !ok {
			return append(ves, apperrors.ValidationError{ErrStr: err.Error()})
		}
		for _, e := range validatorErrors {
			ves = append(ves, apperrors.ValidationError{
				Field:  fieldPath(e.Namespace()),
				Value:  e.Value(),
				ErrStr: describe(e),
			})
		}
	}

	if limit := MaxPassengers(b.Quota); len(b.Passengers) > limit {
		ves = append(ves, apperrors.ValidationError{
			Field:  "passengers",
			Value:  len(b.Passengers),
			ErrStr: fmt.Sprintf("at most %d passengers allowed for quota %s", limit, b.Quota),
		})
	}
	return ves
}

// fieldPath drops the root struct name from a validator namespace.
func fieldPath(ns string) string {
	if i := strings.IndexByte(ns, '.'); i >= 0 {
		return ns[i+1:]
	}
	return ns
}

func describe(e validator.FieldError) string {
	switch e.Tag() {
	case "required":
		return "missing required attribute"
	case "trainNumber":
		return "must be a 5 digit train number"
	case "stationCode":
		return "must be a station code"
	case "journeyDate":
		return "must be a date in YYYYMMDD format"
	case "nefield":
		return "must differ from " + e.Param()
	case "oneof":
		return "must be one of " + e.Param()
	case "min":
		if e.Kind() == reflect.Slice {
			return "must not be empty"
		}
		return "must be at least " + e.Param()
	case "max":
		return "must be at most " + e.Param()
	case "len":
		return "must be " + e.Param() + " characters long"
	case "numeric":
		return "must contain digits only"
	default:
		return "failed " + e.Tag() + " validation"
	}
}
