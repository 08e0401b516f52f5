// Command udfrun loads a UDF guest module and calls it with two operands.
package main

import "os"

func main() {
	os.Exit(execute(os.Args[1:], os.Stdout, os.Stderr))
}
