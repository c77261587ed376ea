package schema_test

import (
	"context"
	"errors"
	"testing"

	"github.com/okian/flume/internal/domain/schema"
	. "github.com/smartystreets/goconvey/convey"
)

const userSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["userID", "amount"],
  "additionalProperties": false,
  "properties": {
    "userID": {"type": "string", "minLength": 1},
    "amount": {"type": "number", "minimum": 0},
    "email": {"type": "string", "format": "email"}
  }
}`

// stubResolver resolves every version to the same document.
type stubResolver struct {
	document string
	calls    int
	err      error
}

func (r *stubResolver) Resolve(ctx context.Context, version string) (string, error) {
	r.calls++
	if r.err != nil {
		return "", r.err
	}
	return r.document, nil
}

func TestRegistry(t *testing.T) {
	Convey("Given a schema registry", t, func() {
		reg := schema.NewRegistry()

		Convey("When registering a valid document", func() {
			err := reg.Register("v1", userSchema)

			Convey("Then it should compile", func() {
				So(err, ShouldBeNil)
			})
		})

		Convey("When registering a broken document", func() {
			err := reg.Register("v1", `{"type": 42}`)

			Convey("Then it should fail to compile", func() {
				So(err, ShouldNotBeNil)
			})
		})
	})
}

func TestValidator(t *testing.T) {
	Convey("Given a validator with a registered contract", t, func() {
		reg := schema.NewRegistry()
		So(reg.Register("v1", userSchema), ShouldBeNil)
		v := schema.NewValidator(reg)
		ctx := context.Background()

		Convey("When validating a conforming payload", func() {
			outcome, err := v.Validate(ctx, []byte(`{
				"userID": "u-1",
				"amount": 42.5,
				"email": "u1@example.com"
			}`), "v1")

			Convey("Then it should be valid with a compacted payload", func() {
				So(err, ShouldBeNil)
				So(outcome.Valid, ShouldBeTrue)
				So(string(outcome.Normalized), ShouldNotContainSubstring, "\n")
				So(string(outcome.Normalized), ShouldContainSubstring, `"userID":"u-1"`)
			})
		})

		Convey("When a required field is missing", func() {
			outcome, err := v.Validate(ctx, []byte(`{"userID": "u-1"}`), "v1")

			Convey("Then it should report the violation", func() {
				So(err, ShouldBeNil)
				So(outcome.Valid, ShouldBeFalse)
				So(len(outcome.Errors), ShouldBeGreaterThan, 0)
			})
		})

		Convey("When a field has the wrong type", func() {
			outcome, err := v.Validate(ctx, []byte(`{"userID": "u-1", "amount": "much"}`), "v1")

			Convey("Then the failure should name the field", func() {
				So(err, ShouldBeNil)
				So(outcome.Valid, ShouldBeFalse)

				found := false
				for _, fe := range outcome.Errors {
					if fe.Field == "amount" {
						found = true
					}
				}
				So(found, ShouldBeTrue)
			})
		})

		Convey("When the email format is violated", func() {
			outcome, err := v.Validate(ctx, []byte(`{"userID": "u-1", "amount": 1, "email": "not-an-email"}`), "v1")

			Convey("Then it should be invalid", func() {
				So(err, ShouldBeNil)
				So(outcome.Valid, ShouldBeFalse)
			})
		})

		Convey("When an unexpected property appears", func() {
			outcome, err := v.Validate(ctx, []byte(`{"userID": "u-1", "amount": 1, "debug": true}`), "v1")

			Convey("Then it should be invalid", func() {
				So(err, ShouldBeNil)
				So(outcome.Valid, ShouldBeFalse)
			})
		})

		Convey("When the payload is not JSON at all", func() {
			outcome, err := v.Validate(ctx, []byte(`{"userID": `), "v1")

			Convey("Then it should be invalid data, not an error", func() {
				So(err, ShouldBeNil)
				So(outcome.Valid, ShouldBeFalse)
				So(outcome.Errors[0].Message, ShouldEqual, "malformed JSON")
			})
		})

		Convey("When the schema version is unknown", func() {
			_, err := v.Validate(ctx, []byte(`{}`), "v9")

			Convey("Then it should return ErrUnknownVersion", func() {
				So(errors.Is(err, schema.ErrUnknownVersion), ShouldBeTrue)
			})
		})
	})
}

func TestValidatorWithResolver(t *testing.T) {
	Convey("Given a registry backed by a resolver", t, func() {
		resolver := &stubResolver{document: userSchema}
		reg := schema.NewRegistry(schema.WithResolver(resolver))
		v := schema.NewValidator(reg)
		ctx := context.Background()

		Convey("When validating against an unregistered version", func() {
			outcome, err := v.Validate(ctx, []byte(`{"userID": "u-1", "amount": 1}`), "v2")

			Convey("Then the resolver should back the miss", func() {
				So(err, ShouldBeNil)
				So(outcome.Valid, ShouldBeTrue)
				So(resolver.calls, ShouldEqual, 1)
			})

			Convey("And the resolved schema should be cached", func() {
				_, err := v.Validate(ctx, []byte(`{"userID": "u-2", "amount": 2}`), "v2")
				So(err, ShouldBeNil)
				So(resolver.calls, ShouldEqual, 1)
			})
		})

		Convey("When the resolver fails", func() {
			failing := &stubResolver{err: errors.New("registry down")}
			reg := schema.NewRegistry(schema.WithResolver(failing))
			v := schema.NewValidator(reg)

			_, err := v.Validate(ctx, []byte(`{}`), "v3")

			Convey("Then the failure should surface as an error", func() {
				So(err, ShouldNotBeNil)
			})
		})
	})
}
