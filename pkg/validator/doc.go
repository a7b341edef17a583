// Package validator provides small composable rules for validating job
// payloads and API requests.
//
// A Rule pairs a Check function with a ValidationError describing the failure.
// Apply evaluates rules and aggregates failures into ValidationErrors, which
// implements error and matches ErrValidationFailed through errors.Is.
//
// # Usage
//
// Payload types implement a Validate method built from rules; the queue calls
// it before a job is persisted:
//
//	func (p SendEmail) Validate() error {
//	    return validator.Apply(
//	        validator.RequiredString("to", p.To),
//	        validator.ValidEmail("to", p.To),
//	        validator.MaxLen("subject", p.Subject, 200),
//	    )
//	}
//
// Callers recover field-level details with ExtractValidationErrors, even when
// the error was wrapped or joined:
//
//	if verrs := validator.ExtractValidationErrors(err); verrs != nil {
//	    render(http.StatusBadRequest, verrs.Map())
//	}
//
// Every ValidationError carries a TranslationKey ("validation.<rule>") and
// TranslationValues for clients that localize messages.
package validator
