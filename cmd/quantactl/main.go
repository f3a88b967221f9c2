// Command quantactl runs and inspects quanta simulation benches.
package main

func main() {
	Execute()
}
