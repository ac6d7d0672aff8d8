package common

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-playground/validator"
	"github.com/labstack/echo/v4"
)

// GenericEchoValidator validates bound request bodies by their validate tags.
type GenericEchoValidator struct {
	Validator *validator.Validate
}

func (gv *GenericEchoValidator) Validate(i interface{}) error {
	if gv.Validator == nil {
		gv.Validator = validator.New()
	}
	err := gv.Validator.Struct(i)
	if err == nil {
		return nil
	}

	var fieldErrors validator.ValidationErrors
	if !errors.As(err, &fieldErrors) {
		return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("received invalid request body: %v", err))
	}
	problems := make([]string, 0, len(fieldErrors))
	for _, fieldError := range fieldErrors {
		problems = append(problems, describeFieldError(fieldError))
	}
	return echo.NewHTTPError(http.StatusBadRequest, "received invalid request body: "+strings.Join(problems, "; "))
}

func describeFieldError(fieldError validator.FieldError) string {
	field := strings.ToLower(fieldError.Field())
	switch fieldError.Tag() {
	case "required":
		return field + " is required"
	case "oneof":
		return fmt.Sprintf("%s must be one of [%s]", field, fieldError.Param())
	case "gte", "lte":
		return fmt.Sprintf("%s must be %s %s", field, fieldError.Tag(), fieldError.Param())
	default:
		return fmt.Sprintf("%s failed on %s", field, fieldError.Tag())
	}
}
