package main

import (
	"fmt"
	"os"
	"time"

	"github.com/alecthomas/kingpin/v2"
	"github.com/fatih/color"
)

var (
	app       = kingpin.New("tinygen", "Client for the TinyGen code generation API")
	serverURL = app.Flag("server", "TinyGen server base URL").Default("http://localhost:8000").String()
	apiKey    = app.Flag("api-key", "API key, if the server requires one").Envar("TINYGEN_API_KEY").String()

	generateCmd    = app.Command("generate", "Submit a new generation task")
	generateRepo   = generateCmd.Arg("repo-url", "Repository URL").Required().String()
	generatePrompt = generateCmd.Arg("prompt", "Change request prompt").Required().String()
	generateWait   = generateCmd.Flag("wait", "Follow logs and print the result when done").Bool()

	statusCmd = app.Command("status", "Show task status")
	statusID  = statusCmd.Arg("id", "Task ID").Required().String()

	resultCmd = app.Command("result", "Print the result diff of a completed task")
	resultID  = resultCmd.Arg("id", "Task ID").Required().String()

	logsCmd    = app.Command("logs", "Print task logs")
	logsID     = logsCmd.Arg("id", "Task ID").Required().String()
	logsFollow = logsCmd.Flag("follow", "Stream logs until the task finishes").Short('f').Bool()

	cancelCmd = app.Command("cancel", "Cancel a pending or running task")
	cancelID  = cancelCmd.Arg("id", "Task ID").Required().String()

	healthCmd = app.Command("health", "Show task counts by status")
)

func main() {
	command := kingpin.MustParse(app.Parse(os.Args[1:]))
	c := newClient(*serverURL, *apiKey)

	var err error
	switch command {
	case generateCmd.FullCommand():
		err = runGenerate(c)
	case statusCmd.FullCommand():
		err = runStatus(c)
	case resultCmd.FullCommand():
		err = runResult(c)
	case logsCmd.FullCommand():
		err = c.logs(*logsID, *logsFollow, func(line string) { fmt.Println(line) })
	case cancelCmd.FullCommand():
		err = runCancel(c)
	case healthCmd.FullCommand():
		err = runHealth(c)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runGenerate(c *client) error {
	res, err := c.generate(*generateRepo, *generatePrompt)
	if err != nil {
		return err
	}
	fmt.Printf("Task created: %s\n", res.TaskID)
	fmt.Printf("Task URL: %s\n", res.TaskURL)
	if !*generateWait {
		return nil
	}

	if err := c.logs(res.TaskID, true, func(line string) { fmt.Println(line) }); err != nil {
		return err
	}
	status, err := c.status(res.TaskID)
	if err != nil {
		return err
	}
	if status.Status != "COMPLETED" {
		return fmt.Errorf("task ended with status %s", status.Status)
	}
	diff, err := c.result(res.TaskID)
	if err != nil {
		return err
	}
	fmt.Println(diff)
	return nil
}

func runStatus(c *client) error {
	status, err := c.status(*statusID)
	if err != nil {
		return err
	}
	fmt.Printf("Task:    %s\n", status.TaskID)
	fmt.Printf("Repo:    %s\n", status.RepoURL)
	fmt.Printf("Prompt:  %s\n", status.Prompt)
	fmt.Printf("Status:  %s\n", colorStatus(status.Status))
	fmt.Printf("Elapsed: %.1fs\n", status.ElapsedTime)
	if status.EndTime != nil {
		fmt.Printf("Ended:   %s\n", status.EndTime.Format(time.RFC3339))
	}
	return nil
}

func runResult(c *client) error {
	diff, err := c.result(*resultID)
	if err != nil {
		return err
	}
	fmt.Print(diff)
	return nil
}

func runCancel(c *client) error {
	res, err := c.cancel(*cancelID)
	if err != nil {
		return err
	}
	fmt.Printf("Task %s: %s\n", res.TaskID, colorStatus(res.Status))
	return nil
}

func runHealth(c *client) error {
	h, err := c.health()
	if err != nil {
		return err
	}
	fmt.Printf("pending:   %d\n", h.Pending)
	fmt.Printf("finished:  %d\n", h.Finished)
	fmt.Printf("errored:   %d\n", h.Errored)
	fmt.Printf("cancelled: %d\n", h.Cancelled)
	fmt.Printf("other:     %d\n", h.Other)
	return nil
}

func colorStatus(status string) string {
	switch status {
	case "COMPLETED":
		return color.GreenString(status)
	case "ERRORED":
		return color.RedString(status)
	case "CANCELLED":
		return color.YellowString(status)
	case "RUNNING":
		return color.CyanString(status)
	default:
		return status
	}
}
