package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/tion-home/tionctl/internal/registry"
)

// groupCmd manages named device groups ("bedrooms", "whole flat"). Commands
// that talk to devices accept a group id via --group and fan out to every
// member.
var groupCmd = &cobra.Command{
	Use:   "group",
	Short: "Manage device groups",
}

var groupListCmd = &cobra.Command{
	Use:   "list",
	Short: "List device groups",
	Args:  cobra.NoArgs,
	RunE:  runGroupList,
}

var groupCreateCmd = &cobra.Command{
	Use:   "create <name> <device>...",
	Short: "Create a group over the given devices",
	Args:  cobra.MinimumNArgs(2),
	RunE:  runGroupCreate,
}

var groupMembersCmd = &cobra.Command{
	Use:   "members <id> <device>...",
	Short: "Replace a group's member list",
	Args:  cobra.MinimumNArgs(2),
	RunE:  runGroupMembers,
}

var groupRenameCmd = &cobra.Command{
	Use:   "rename <id> <name>",
	Short: "Rename a group",
	Args:  cobra.ExactArgs(2),
	RunE:  runGroupRename,
}

var groupRemoveCmd = &cobra.Command{
	Use:   "remove <id>",
	Short: "Remove a group",
	Args:  cobra.ExactArgs(1),
	RunE:  runGroupRemove,
}

var groupListAll bool

func init() {
	groupListCmd.Flags().BoolVarP(&groupListAll, "all", "a", false, "Include removed groups")
	groupCmd.AddCommand(groupListCmd)
	groupCmd.AddCommand(groupCreateCmd)
	groupCmd.AddCommand(groupMembersCmd)
	groupCmd.AddCommand(groupRenameCmd)
	groupCmd.AddCommand(groupRemoveCmd)
	devicesCmd.AddCommand(groupCmd)
}

func parseGroupID(arg string) (int64, error) {
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid group id %q", arg)
	}
	return id, nil
}

// resolveMember maps a device argument (registry id or label) to its id.
func resolveMember(reg *registry.Registry, arg string) (string, error) {
	if d, err := reg.Get(arg); err == nil {
		return d.ID, nil
	}
	devices, err := reg.List(false)
	if err != nil {
		return "", err
	}
	for _, d := range devices {
		if strings.EqualFold(d.Name, arg) {
			return d.ID, nil
		}
	}
	return "", fmt.Errorf("unknown device %q (register it first)", arg)
}

func resolveMembers(reg *registry.Registry, args []string) ([]string, error) {
	ids := make([]string, 0, len(args))
	for _, arg := range args {
		id, err := resolveMember(reg, arg)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func runGroupList(cmd *cobra.Command, args []string) error {
	return withRegistry(cmd, func(reg *registry.Registry) error {
		groups, err := reg.Groups(groupListAll)
		if err != nil {
			return err
		}
		if len(groups) == 0 {
			fmt.Println("No device groups (run 'tionctl devices group create')")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tNAME\tDEVICES")
		for _, g := range groups {
			name := g.Name
			if !g.Active {
				name += " (removed)"
			}
			fmt.Fprintf(w, "%d\t%s\t%s\n", g.ID, color.CyanString(name), strings.Join(g.DeviceIDs, ", "))
		}
		return w.Flush()
	})
}

func runGroupCreate(cmd *cobra.Command, args []string) error {
	return withRegistry(cmd, func(reg *registry.Registry) error {
		members, err := resolveMembers(reg, args[1:])
		if err != nil {
			return err
		}
		g, err := reg.CreateGroup(args[0], members)
		if err != nil {
			return err
		}
		fmt.Printf("Created group %s (id %d, %d devices)\n", color.CyanString(g.Name), g.ID, len(g.DeviceIDs))
		return nil
	})
}

func runGroupMembers(cmd *cobra.Command, args []string) error {
	id, err := parseGroupID(args[0])
	if err != nil {
		return err
	}
	return withRegistry(cmd, func(reg *registry.Registry) error {
		members, err := resolveMembers(reg, args[1:])
		if err != nil {
			return err
		}
		if err := reg.SetGroupDevices(id, members); err != nil {
			return err
		}
		fmt.Printf("Group %d now has %d devices\n", id, len(members))
		return nil
	})
}

func runGroupRename(cmd *cobra.Command, args []string) error {
	id, err := parseGroupID(args[0])
	if err != nil {
		return err
	}
	return withRegistry(cmd, func(reg *registry.Registry) error {
		if err := reg.RenameGroup(id, args[1]); err != nil {
			return err
		}
		fmt.Printf("Renamed group %d to %s\n", id, color.CyanString(args[1]))
		return nil
	})
}

func runGroupRemove(cmd *cobra.Command, args []string) error {
	id, err := parseGroupID(args[0])
	if err != nil {
		return err
	}
	return withRegistry(cmd, func(reg *registry.Registry) error {
		if err := reg.RemoveGroup(id); err != nil {
			return err
		}
		fmt.Printf("Removed group %d\n", id)
		return nil
	})
}
