// fleetd - Worker Fleet Supervisor
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/fleetd

// Package validation wraps go-playground/validator v10 with a shared
// instance and readable error messages.
//
// It validates configuration settings at startup and on save, and event
// submissions on the admin API:
//
//	if err := validation.Struct(&req); err != nil {
//	    var verrs validation.Errors
//	    errors.As(err, &verrs)
//	    ...
//	}
package validation
