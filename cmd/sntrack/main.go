// Command sntrack exercises and inspects the safetynet tracking allocator.
package main

func main() {
	execute()
}
