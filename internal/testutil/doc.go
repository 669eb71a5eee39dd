// Package testutil contains helper builders and scripted participants used
// across tests to reduce boilerplate when constructing transcripts and
// groups. They are not intended for production usage.
package testutil
