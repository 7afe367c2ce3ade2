// Package validator validates request input structs.
//
// It wraps go-playground/validator so every handler rejects bad input
// the same way, with messages that name the camelCase JSON fields the
// caller sent:
//
//	if err := validator.Validate(&input); err != nil {
//	    // err.Error() reads "stages: must have at least 1 entries"
//	}
//
// The custom "stagename" tag constrains pipeline stage identifiers,
// which end up as report map keys and transition labels.
package validator
