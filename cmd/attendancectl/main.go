/*
main.go - Operator CLI for the attendance engine

PURPOSE:
  Runs the batch side of the engine against the same SQLite database as
  the server, for backfills, audits and housekeeping.

COMMANDS:
  sweep                Reconcile a work date for all (or some) tenants
  anomalies            List anomalies of a tenant for a date range
  purge-notifications  Drop notification log entries older than a duration
  settings validate    Check a tenant settings JSON document

EXAMPLES:
  attendancectl sweep --date 2026-03-02
  attendancectl sweep --date 2026-03-02 --tenant acme --tenant globex
  attendancectl anomalies --tenant acme --from 2026-03-01 --to 2026-03-07
  attendancectl purge-notifications --older-than 720h
  attendancectl settings validate ./acme.json
*/
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
