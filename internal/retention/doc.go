// Package retention removes aged job artifacts on a timer while leaving the
// job records in place for status queries.
package retention
