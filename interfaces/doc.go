// Package interfaces holds the types shared by the session, gateway,
// orchestrator and front-ends: the wallet session, identity records, the
// registration form, the wallet provider contract and the categorized
// error taxonomy.
//
// Every error that reaches a user is an *Error with one Category, or a
// *ValidationErrors carrying per-field messages. Sentinels such as
// ErrNotReady match any error of the same category with errors.Is.
package interfaces
