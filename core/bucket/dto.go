package bucket

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/kilianp07/wastefleet/core/errs"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// CreateInput carries the fields a user supplies when registering a bin.
type CreateInput struct {
	BucketID       string   `json:"bucket_id" validate:"required,len=6,numeric"`
	Name           string   `json:"name" validate:"required,max=120"`
	UserID         string   `json:"user_id" validate:"required"`
	Capacity       float64  `json:"capacity" validate:"gt=0"`
	FillPercentage float64  `json:"fill_percentage" validate:"gte=0,lte=100"`
	Latitude       *float64 `json:"latitude,omitempty" validate:"omitempty,gte=-90,lte=90"`
	Longitude      *float64 `json:"longitude,omitempty" validate:"omitempty,gte=-180,lte=180"`
	Address        string   `json:"address,omitempty" validate:"max=250"`
}

// TrashInput describes one deposit.
type TrashInput struct {
	BucketID    string  `json:"bucket_id" validate:"required"`
	UserID      string  `json:"user_id"`
	TrashType   string  `json:"trash_type" validate:"required"`
	Weight      float64 `json:"weight" validate:"gt=0"`
	Description string  `json:"description,omitempty" validate:"max=500"`
}

// HealthInput is a full sensor health reading.
type HealthInput struct {
	SensorUptime   float64 `json:"sensor_uptime" validate:"gte=0,lte=100"`
	BatteryLevel   float64 `json:"battery_level" validate:"gte=0,lte=100"`
	SignalStrength int     `json:"signal_strength" validate:"gte=1,lte=5"`
	IsOnline       bool    `json:"is_online"`
}

// Validate runs struct validation on v and reports failures as InvalidInput.
func Validate(op string, v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	var ve validator.ValidationErrors
	if !errors.As(err, &ve) {
		return errs.Wrap(errs.ErrInvalidInput, op, err)
	}
	msgs := make([]string, 0, len(ve))
	for _, fe := range ve {
		msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Field(), fe.Tag()))
	}
	return errs.New(errs.ErrInvalidInput, op, "%s", strings.Join(msgs, "; "))
}
