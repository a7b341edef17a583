package validator_test

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/dmitrymomot/jobkit/pkg/validator"
)

func TestRules(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		rule validator.Rule
		want bool
	}{
		{name: "required string", rule: validator.RequiredString("f", "x"), want: true},
		{name: "required string blank", rule: validator.RequiredString("f", " \t"), want: false},
		{name: "max len", rule: validator.MaxLen("f", "héllo", 5), want: true},
		{name: "max len long", rule: validator.MaxLen("f", "hello!", 5), want: false},

		{name: "email", rule: validator.ValidEmail("f", "ops@example.com"), want: true},
		{name: "email subdomain", rule: validator.ValidEmail("f", "a.b@mail.example.co"), want: true},
		{name: "email without dot", rule: validator.ValidEmail("f", "ops@localhost"), want: false},
		{name: "email empty domain part", rule: validator.ValidEmail("f", "ops@example..com"), want: false},
		{name: "email display name", rule: validator.ValidEmail("f", "Ops <ops@example.com>"), want: false},
		{name: "email garbage", rule: validator.ValidEmail("f", "not-an-email"), want: false},

		{name: "one of", rule: validator.OneOf("f", "csv", "csv", "json"), want: true},
		{name: "one of miss", rule: validator.OneOf("f", "xml", "csv", "json"), want: false},

		{name: "min", rule: validator.Min("f", 0, 0), want: true},
		{name: "min below", rule: validator.Min("f", -1, 0), want: false},
		{name: "max float", rule: validator.Max("f", 0.5, 1.0), want: true},
		{name: "between", rule: validator.Between("f", 10, 0, 1000), want: true},
		{name: "between above", rule: validator.Between("f", 1001, 0, 1000), want: false},

		{name: "max items", rule: validator.MaxItems("f", []int{1, 2}, 2), want: true},
		{name: "max items over", rule: validator.MaxItems("f", []int{1, 2, 3}, 2), want: false},
		{name: "required items", rule: validator.RequiredItems("f", []string{"a"}), want: true},
		{name: "required items empty", rule: validator.RequiredItems[string]("f", nil), want: false},

		{name: "uuid", rule: validator.ValidUUID("f", uuid.NewString()), want: true},
		{name: "uuid braces", rule: validator.ValidUUID("f", "{"+uuid.NewString()+"}"), want: false},
		{name: "uuid garbage", rule: validator.ValidUUID("f", "123"), want: false},
		{name: "required uuid", rule: validator.RequiredUUID("f", uuid.New()), want: true},
		{name: "required uuid nil", rule: validator.RequiredUUID("f", uuid.Nil), want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			assert.Equal(t, tt.want, tt.rule.Check())
			assert.Equal(t, "f", tt.rule.Error.Field)
			assert.NotEmpty(t, tt.rule.Error.Message)
		})
	}
}
