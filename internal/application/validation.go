package application

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/example/resource-reservations/internal/persistence"
)

// reservationInput is the tag-validated subset of a booking request.
type reservationInput struct {
	ResourceID          string  `json:"resource_id" validate:"required,max=128"`
	Purpose             string  `json:"purpose" validate:"required,min=10,max=500"`
	SpecialRequirements *string `json:"special_requirements" validate:"omitempty,max=1000"`
}

type inputValidator struct {
	validate *validator.Validate
}

func newInputValidator() *inputValidator {
	v := validator.New()
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return &inputValidator{validate: v}
}

// check runs the struct tags and records failures on vErr.
func (iv *inputValidator) check(input any, vErr *ValidationError) {
	err := iv.validate.Struct(input)
	if err == nil {
		return
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		vErr.add("request", err.Error())
		return
	}
	for _, fe := range fieldErrs {
		vErr.add(fe.Field(), describe(fe))
	}
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "min":
		return fmt.Sprintf("must be at least %s characters", fe.Param())
	case "max":
		return fmt.Sprintf("must be at most %s characters", fe.Param())
	}
	return fmt.Sprintf("failed %s validation", fe.Tag())
}

// checkWindow applies the resource's booking limits to [start, end).
func (o Options) checkWindow(resource persistence.Resource, start, end, now time.Time, vErr *ValidationError) {
	if !start.Before(end) {
		vErr.add("end", "must be after start")
		return
	}
	maxAdvance, minDuration, maxDuration := o.bounds(resource)

	duration := end.Sub(start)
	if duration < minDuration {
		vErr.add("end", fmt.Sprintf("reservation must last at least %s", minDuration))
	}
	if duration > maxDuration {
		vErr.add("end", fmt.Sprintf("reservation must not exceed %s", maxDuration))
	}
	if !start.After(now) {
		vErr.add("start", "must be in the future")
	}
	if start.After(now.Add(maxAdvance)) {
		vErr.add("start", fmt.Sprintf("cannot be booked more than %s in advance", maxAdvance))
	}
}

// checkWaitlistWindow applies the checks that make sense for a queued request.
func (o Options) checkWaitlistWindow(resource persistence.Resource, start, end, now time.Time, vErr *ValidationError) {
	if !start.Before(end) {
		vErr.add("end", "must be after start")
		return
	}
	maxAdvance, _, maxDuration := o.bounds(resource)
	if !start.After(now) {
		vErr.add("start", "must be in the future")
	}
	if start.After(now.Add(maxAdvance)) {
		vErr.add("start", fmt.Sprintf("cannot be booked more than %s in advance", maxAdvance))
	}
	if end.Sub(start) > maxDuration {
		vErr.add("end", fmt.Sprintf("reservation must not exceed %s", maxDuration))
	}
}
