/*
Copyright 2024 WebSQL, Inc.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package mysql

import (
	"errors"

	mysqllib "github.com/go-mysql-org/go-mysql/mysql"
	"github.com/gravitational/trace"
)

// ConvertError converts driver errors to trace errors.
func ConvertError(err error) error {
	if err == nil {
		return nil
	}
	var myError *mysqllib.MyError
	if errors.As(err, &myError) {
		switch myError.Code {
		case mysqllib.ER_ACCESS_DENIED_ERROR, mysqllib.ER_DBACCESS_DENIED_ERROR:
			return trace.AccessDenied("%s", myError.Message)
		case mysqllib.ER_DUP_ENTRY:
			return trace.AlreadyExists("%s", myError.Message)
		}
		return trace.Wrap(err)
	}
	return trace.ConvertSystemError(err)
}

// IsServerError reports whether err originated as a MySQL server error
// packet, as opposed to a network or protocol level failure. A server
// error leaves the connection in a usable state.
func IsServerError(err error) bool {
	var myError *mysqllib.MyError
	return errors.As(trace.Unwrap(err), &myError)
}

// IsAccessDeniedError reports whether the server rejected the supplied
// credentials outright.
func IsAccessDeniedError(err error) bool {
	var myError *mysqllib.MyError
	if !errors.As(trace.Unwrap(err), &myError) {
		return false
	}
	return myError.Code == mysqllib.ER_ACCESS_DENIED_ERROR ||
		myError.Code == mysqllib.ER_DBACCESS_DENIED_ERROR
}

// IsSchemaAccessDeniedError reports whether the server rejected
// authentication only because the user has no access to the requested
// default schema. This is the one condition the impersonation broker
// recovers from by retrying without a schema.
func IsSchemaAccessDeniedError(err error) bool {
	var myError *mysqllib.MyError
	if !errors.As(trace.Unwrap(err), &myError) {
		return false
	}
	return myError.Code == mysqllib.ER_DBACCESS_DENIED_ERROR
}
