package ledger

import (
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

var (
	emailPattern = regexp.MustCompile(`^[\w.-]+@[\w.-]+\.\w+$`)
	phoneNoise   = strings.NewReplacer(" ", "", "-", "", "(", "", ")", "")
	phonePattern = regexp.MustCompile(`^\+?\d{7,15}$`)
)

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())

	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" || name == "" {
			return f.Name
		}
		return name
	})

	must := func(tag string, fn validator.Func) {
		if err := v.RegisterValidation(tag, fn); err != nil {
			panic(err)
		}
	}
	must("ledger_email", func(fl validator.FieldLevel) bool {
		return emailPattern.MatchString(fl.Field().String())
	})
	must("ledger_phone", func(fl validator.FieldLevel) bool {
		return validPhone(fl.Field().String())
	})
	must("ledger_tier", func(fl validator.FieldLevel) bool {
		return Tier(fl.Field().String()).Valid()
	})
	must("ledger_status", func(fl validator.FieldLevel) bool {
		return Status(fl.Field().String()).Valid()
	})
	must("ledger_payment", func(fl validator.FieldLevel) bool {
		return PaymentMethod(fl.Field().String()).Valid()
	})
	return v
}

func validPhone(s string) bool {
	return phonePattern.MatchString(phoneNoise.Replace(s))
}

// normalizeEmail is applied before validation and storage, so uniqueness is
// case-insensitive on every backend.
func normalizeEmail(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// check runs struct tags and converts the first failure to *ValidationError.
func check(v *validator.Validate, in any) error {
	err := v.Struct(in)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return &ValidationError{Message: err.Error()}
	}
	fe := fieldErrs[0]
	return &ValidationError{Field: fe.Field(), Message: describe(fe)}
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "max":
		return fmt.Sprintf("must be at most %s characters", fe.Param())
	case "gte":
		return fmt.Sprintf("must be at least %s", fe.Param())
	case "lte":
		return fmt.Sprintf("must be at most %s", fe.Param())
	case "gt":
		return fmt.Sprintf("must be greater than %s", fe.Param())
	case "ledger_email":
		return "is not a valid email address"
	case "ledger_phone":
		return "must contain 7 to 15 digits"
	case "ledger_tier":
		return "must be one of Prospect, Regular, VIP, Inactive"
	case "ledger_status":
		return "must be one of Active, Inactive, Prospect"
	case "ledger_payment":
		return "must be one of Cash, Debit Card, Credit Card, Transfer"
	}
	return fmt.Sprintf("failed %s", fe.Tag())
}

func checkMoney(field string, m Money) error {
	if m.IsNegative() {
		return &ValidationError{Field: field, Message: "must not be negative"}
	}
	if !m.exact() {
		return &ValidationError{Field: field, Message: "must have at most two decimals"}
	}
	if m.GreaterThan(MaxSaleTotal.Decimal) {
		return &ValidationError{Field: field, Message: "must not exceed " + MaxSaleTotal.String()}
	}
	return nil
}

func checkRate(field string, r decimal.Decimal) error {
	if r.IsNegative() || r.GreaterThan(decimal.NewFromInt(1)) {
		return &ValidationError{Field: field, Message: "must be between 0 and 1"}
	}
	if !r.Equal(r.Round(4)) {
		return &ValidationError{Field: field, Message: "must have at most four decimals"}
	}
	return nil
}

func (s *Service) validateClient(in ClientInput) error {
	if err := check(s.validate, in); err != nil {
		return err
	}
	return checkRate("discount", in.Discount)
}

func (s *Service) validateSale(in SaleInput) error {
	if err := check(s.validate, in); err != nil {
		return err
	}
	if err := checkMoney("total", in.Total); err != nil {
		return err
	}
	if in.Discount != nil {
		return checkRate("discount", *in.Discount)
	}
	return nil
}
