// Package cli implements the moat command-line interface.
//
// The package is organized around Cobra commands, with each command
// delegating to the internal packages for the actual work:
//
//	moat configure       - Interactive inventory + variable setup
//	moat check           - Run the prerequisites playbook
//	moat deploy [role..] - Deploy the stack (or selected roles)
//	moat cleanup         - Remove the stack from all hosts
//	moat provision       - Create VMs on a remote libvirt host
//	moat roles           - List and toggle deployment roles
//	moat logs            - List and clean run logs
//
// Playbook-driven commands share one workflow (executePlaybook): build
// the ansible-playbook command, run it through the engine with a live
// view on interactive terminals, then persist the raw log and a JSON
// summary and print the results table.
//
// Global flags (--config, --verbose, --quiet, --no-color) are defined
// on the root command. Command-specific flags live on the individual
// commands.
package cli
