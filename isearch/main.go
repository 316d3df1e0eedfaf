/*
	The isearch binary: a crawler, indexer, and query console built on the
	stock PostgreSQL datastore. See `isearch help` for the available commands.
*/
package main

import "github.com/antwaves/iSearch/cmd"

func main() {
	cmd.Execute()
}
