// Command validate checks gateway config files and store seed files before
// they are deployed. For a config file it checks:
//   - YAML structure and every value config.Load validates
//   - permissions.base_allowed names only known update types
//   - the referenced seed file, if any
//
// For a seed file it checks:
//   - every user has a unique id
//   - every member names a trip and a known user
//   - roles are HOST, CO_HOST or MEMBER and statuses CONFIRMED, INVITED or DECLINED
//   - every trip has at least one confirmed HOST
//
// Usage:
//
//	go run ./validate config.yaml seed.yaml ...
//
// Files ending in .seed.yaml or containing a top-level "users" key are
// treated as seeds.
package main

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/Selina744/group-planner-sub000/config"
	"github.com/Selina744/group-planner-sub000/realtime"
	"github.com/Selina744/group-planner-sub000/store"
)

// ValidationResult captures the outcome of validating a single file.
// If Valid is true, Errors contains informational messages; otherwise it
// accumulates the validation errors that were found.
type ValidationResult struct {
	File   string
	Valid  bool
	Errors []string
}

func (r *ValidationResult) fail(format string, args ...interface{}) {
	r.Valid = false
	r.Errors = append(r.Errors, fmt.Sprintf(format, args...))
}

func (r *ValidationResult) info(format string, args ...interface{}) {
	r.Errors = append(r.Errors, "✓ "+fmt.Sprintf(format, args...))
}

// validateConfig loads a gateway config file and validates it along with
// the seed file it points at.
func validateConfig(filePath string) ValidationResult {
	result := ValidationResult{
		File:   filepath.Base(filePath),
		Valid:  true,
		Errors: []string{},
	}

	cfg, err := config.Load(filePath)
	if err != nil {
		result.fail("%v", err)
		return result
	}
	result.info("config loads (store=%s, audit=%s)", cfg.Store.Driver, cfg.Audit.Sink)

	if len(cfg.Permissions.BaseAllowed) == 0 {
		result.info("base_allowed uses the built-in list")
	} else if _, err := realtime.ParseUpdateTypes(cfg.Permissions.BaseAllowed); err != nil {
		result.fail("permissions.base_allowed: %v", err)
	} else {
		result.info("base_allowed: %s", strings.Join(cfg.Permissions.BaseAllowed, ", "))
	}

	if cfg.Store.SeedFile != "" {
		seed := validateSeed(cfg.Store.SeedFile)
		for _, msg := range seed.Errors {
			if seed.Valid || !strings.HasPrefix(msg, "✓") {
				result.Errors = append(result.Errors, "seed: "+msg)
			}
		}
		if !seed.Valid {
			result.Valid = false
		}
	}

	return result
}

// validateSeed validates a store seed file.
func validateSeed(filePath string) ValidationResult {
	result := ValidationResult{
		File:   filepath.Base(filePath),
		Valid:  true,
		Errors: []string{},
	}

	data, err := os.ReadFile(filePath)
	if err != nil {
		result.fail("failed to read file: %v", err)
		return result
	}
	var seed store.Seed
	if err := yaml.Unmarshal(data, &seed); err != nil {
		result.fail("invalid YAML: %v", err)
		return result
	}

	users := make(map[string]bool, len(seed.Users))
	for i, u := range seed.Users {
		switch {
		case u.ID == "":
			result.fail("users[%d] has no id", i)
		case users[u.ID]:
			result.fail("duplicate user id %q", u.ID)
		default:
			users[u.ID] = true
		}
	}

	hosts := map[string]bool{}
	for i, m := range seed.Members {
		if m.Trip == "" || m.User == "" {
			result.fail("members[%d] needs trip and user", i)
			continue
		}
		if _, ok := hosts[m.Trip]; !ok {
			hosts[m.Trip] = false
		}
		if !users[m.User] {
			result.fail("members[%d] references unknown user %q", i, m.User)
		}

		role := realtime.Role(m.Role)
		switch role {
		case "", realtime.RoleMember, realtime.RoleCoHost, realtime.RoleHost:
		default:
			result.fail("members[%d] has unknown role %q", i, m.Role)
		}
		switch m.Status {
		case "", store.StatusConfirmed, store.StatusInvited, store.StatusDeclined:
		default:
			result.fail("members[%d] has unknown status %q", i, m.Status)
		}
		if role == realtime.RoleHost && (m.Status == "" || m.Status == store.StatusConfirmed) {
			hosts[m.Trip] = true
		}
	}

	trips := make([]string, 0, len(hosts))
	for trip := range hosts {
		trips = append(trips, trip)
	}
	sort.Strings(trips)
	for _, trip := range trips {
		if !hosts[trip] {
			result.fail("trip %q has no confirmed HOST", trip)
		}
	}

	if result.Valid {
		result.info("%d users, %d memberships across %d trips", len(users), len(seed.Members), len(trips))
	}
	return result
}

// isSeed guesses whether path holds a seed rather than a gateway config.
func isSeed(path string) bool {
	if strings.HasSuffix(path, ".seed.yaml") || strings.HasSuffix(path, ".seed.yml") {
		return true
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return false
	}
	var top map[string]interface{}
	if yaml.Unmarshal(data, &top) != nil {
		return false
	}
	_, ok := top["users"]
	return ok
}

// main validates every file named on the command line, printing a concise
// report and exiting with non-zero status if any are invalid.
func main() {
	files := os.Args[1:]
	if len(files) == 0 {
		fmt.Println("usage: validate FILE...")
		os.Exit(2)
	}

	allValid := true
	for _, file := range files {
		var result ValidationResult
		if isSeed(file) {
			result = validateSeed(file)
		} else {
			result = validateConfig(file)
		}

		fmt.Printf("\n%s %s\n", strings.Repeat("=", 20), result.File)

		if result.Valid {
			fmt.Println("✅ VALID")
			for _, info := range result.Errors {
				fmt.Println("  " + info)
			}
		} else {
			fmt.Println("❌ INVALID")
			allValid = false
			for _, err := range result.Errors {
				if !strings.HasPrefix(err, "✓") {
					fmt.Println("  ❌ " + err)
				}
			}
		}
	}

	fmt.Printf("\n%s\n", strings.Repeat("=", 40))
	if allValid {
		fmt.Println("✅ All files are valid!")
	} else {
		fmt.Println("❌ Some files have errors")
		os.Exit(1)
	}
}
