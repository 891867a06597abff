package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/dukerupert/voxnote/internal/model"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

var tasksJSON bool

var tasksCmd = &cobra.Command{
	Use:   "tasks",
	Short: "List tasks in the local cache",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		a, err := openApp()
		if err != nil {
			fatal("Failed to open cache", err)
		}
		defer a.Close()

		tasks, err := a.tasks.List()
		if err != nil {
			fatal("Failed to list tasks", err)
		}
		if tasksJSON {
			printJSON(tasks)
			return
		}
		if len(tasks) == 0 {
			fmt.Println("No tasks.")
			return
		}

		tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tSTATUS\tPRIORITY\tDUE\tSYNCED\tDESCRIPTION")
		for _, t := range tasks {
			due := "-"
			if t.Deadline != nil {
				due = humanize.Time(*t.Deadline)
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
				shortID(t.ID), t.Status, t.Priority, due, yesNo(t.Synced), t.Description)
		}
		tw.Flush()
	},
}

var taskSetCmd = &cobra.Command{
	Use:   "set <id> <status>",
	Short: "Change a task's status (pending, in_progress, done)",
	Long: `Change a task's status locally. The change is pushed to the backend by
the next sync.`,
	Args: cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		id, status := args[0], args[1]
		if !model.ValidTaskStatus(status) {
			fatal("Invalid status", fmt.Errorf("%q is not one of pending, in_progress, done", status))
		}

		a, err := openApp()
		if err != nil {
			fatal("Failed to open cache", err)
		}
		defer a.Close()

		task, err := resolveTask(a, id)
		if err != nil {
			fatal("Task lookup failed", err)
		}
		if _, err := a.tasks.SetStatus(task.ID, status); err != nil {
			fatal("Failed to update task", err)
		}
		fmt.Printf("Task %s is now %s.\n", shortID(task.ID), status)
	},
}

// resolveTask accepts a full id or a unique prefix as printed by `tasks`.
func resolveTask(a *app, id string) (*model.Task, error) {
	if t, err := a.tasks.GetByID(id); err != nil || t != nil {
		return t, err
	}
	tasks, err := a.tasks.List()
	if err != nil {
		return nil, err
	}
	var match *model.Task
	for i := range tasks {
		if len(tasks[i].ID) >= len(id) && tasks[i].ID[:len(id)] == id {
			if match != nil {
				return nil, fmt.Errorf("id prefix %q is ambiguous", id)
			}
			match = &tasks[i]
		}
	}
	if match == nil {
		return nil, fmt.Errorf("no task %q", id)
	}
	return match, nil
}

func init() {
	tasksCmd.Flags().BoolVar(&tasksJSON, "json", false, "output in JSON format")
	tasksCmd.AddCommand(taskSetCmd)
	rootCmd.AddCommand(tasksCmd)
}
