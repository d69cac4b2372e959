/*
Copyright © 2020 the bgcagg authors.
This file is part of bgcagg.

bgcagg is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

bgcagg is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with bgcagg.  If not, see <http://www.gnu.org/licenses/>.
*/

// Command bgcagg extracts a single depth of the eReefs biogeochemistry
// time series and writes its all-time and seasonal aggregates.
package main

import (
	"fmt"
	"os"

	"github.com/ereefs/bgcagg/bgcaggutil"
	"github.com/joho/godotenv"
)

func main() {
	// Settings in a .env file in the working directory are used as
	// environment variables; a missing file is not an error.
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		fmt.Println(err)
		os.Exit(-1)
	}
	if err := bgcaggutil.Root.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(-1)
	}
}
