// Command swipelist runs the swipelist session backend.
package main

func main() {
	Execute()
}
