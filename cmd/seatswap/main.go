// Command seatswap keeps a BU StudentLink enrollment in line with a desired
// list of sections, swapping sections as seats open up.
package main

import "github.com/Sentinel-Gate/seatswap/cmd/seatswap/cmd"

func main() {
	cmd.Execute()
}
