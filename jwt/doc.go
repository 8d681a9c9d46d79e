// Package jwt issues and verifies the session tokens handed to clients by the
// reference backend. A token names a user and a server session; elevation
// state lives in the session record.
package jwt
