// Copyright Project Contour Authors
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package build

import "fmt"

// Branch allows for a queryable branch name set at build time via -ldflags.
var Branch string

// Sha allows for a queryable git sha set at build time via -ldflags.
var Sha string

// Version allows for a queryable version set at build time via -ldflags.
var Version = "devel"

// PrintBuildInfo renders the build information for the version command.
func PrintBuildInfo() string {
	if Branch == "" && Sha == "" {
		return fmt.Sprintf("wraith %s", Version)
	}
	return fmt.Sprintf("wraith %s (branch=%s sha=%s)", Version, Branch, Sha)
}

// ProxiedBy is the value forwarded requests are stamped with in the
// x-proxied-by response header per spec.md section 4.6.
func ProxiedBy() string {
	return fmt.Sprintf("Wraith/%s", Version)
}
