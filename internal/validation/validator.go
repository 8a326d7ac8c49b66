package validation

import (
	"reflect"
	"regexp"
	"strings"

	validatorv10 "github.com/go-playground/validator/v10"
)

var idempotencyKeyPattern = regexp.MustCompile(`^[A-Za-z0-9\-_.:]{1,256}$`)

// New returns a configured validator with the idempotency_key tag and
// struct-level validation registered.
func New() *validatorv10.Validate {
	v := validatorv10.New()

	// report fields by their JSON name
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "" || name == "-" {
			return f.Name
		}
		return name
	})
	_ = v.RegisterValidation("idempotency_key", validateIdempotencyKey)

	// required passes for whitespace-only strings; ids must carry a value
	v.RegisterStructValidation(createOrderStructValidation, CreateOrderRequest{})

	return v
}

// ValidIdempotencyKey reports whether key matches the idempotency key grammar.
func ValidIdempotencyKey(v *validatorv10.Validate, key string) bool {
	return v.Var(key, "idempotency_key") == nil
}

func validateIdempotencyKey(fl validatorv10.FieldLevel) bool {
	return idempotencyKeyPattern.MatchString(fl.Field().String())
}

func createOrderStructValidation(sl validatorv10.StructLevel) {
	req := sl.Current().Interface().(CreateOrderRequest)

	if req.ProductID != "" && strings.TrimSpace(req.ProductID) == "" {
		sl.ReportError(req.ProductID, "product_id", "ProductID", "not_blank", "")
	}
	if req.CustomerID != "" && strings.TrimSpace(req.CustomerID) == "" {
		sl.ReportError(req.CustomerID, "customer_id", "CustomerID", "not_blank", "")
	}
}
