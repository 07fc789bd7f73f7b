package support

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/cucumber/godog"
)

// iRunCommand executes a command and stores the result.
func (testCtx *TestContext) iRunCommand(command string) error {
	command = testCtx.substitute(command)
	testCtx.LastCommand = command

	parts := strings.Fields(command)
	if len(parts) == 0 {
		return errors.New("empty command")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	cmd := exec.CommandContext(ctx, parts[0], parts[1:]...)
	cmd.Dir = testCtx.WorkingDir
	cmd.Env = append(os.Environ(), testCtx.EnvVars...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	testCtx.LastOutput = stdout.String()
	testCtx.LastStderr = stderr.String()
	testCtx.LastError = err

	testCtx.LastExitCode = 0
	if err != nil {
		exitError := &exec.ExitError{}
		if errors.As(err, &exitError) {
			testCtx.LastExitCode = exitError.ExitCode()
		} else {
			testCtx.LastExitCode = -1
		}
	}
	return nil
}

// theCommandShouldSucceed verifies the command succeeded.
func (testCtx *TestContext) theCommandShouldSucceed() error {
	if testCtx.LastExitCode != 0 {
		return fmt.Errorf("command failed with exit code %d: %w\nStdout: %s\nStderr: %s",
			testCtx.LastExitCode, testCtx.LastError, testCtx.LastOutput, testCtx.LastStderr)
	}
	return nil
}

// theCommandShouldFail verifies the command failed.
func (testCtx *TestContext) theCommandShouldFail() error {
	if testCtx.LastExitCode == 0 {
		return fmt.Errorf("command succeeded when it should have failed\nOutput: %s", testCtx.LastOutput)
	}
	return nil
}

// theOutputShouldContain verifies stdout contains specific text.
func (testCtx *TestContext) theOutputShouldContain(expectedText string) error {
	if !strings.Contains(testCtx.LastOutput, expectedText) {
		return fmt.Errorf("output does not contain '%s'\nActual output: %s", expectedText, testCtx.LastOutput)
	}
	return nil
}

// theOutputShouldBeValidJSON verifies stdout is a JSON document.
func (testCtx *TestContext) theOutputShouldBeValidJSON() error {
	var js json.RawMessage
	if err := json.Unmarshal([]byte(testCtx.LastOutput), &js); err != nil {
		return fmt.Errorf("output is not valid JSON: %w\nOutput: %s", err, testCtx.LastOutput)
	}
	return nil
}

// theJSONShouldContain verifies stdout has a (dotted) JSON field.
func (testCtx *TestContext) theJSONShouldContain(field string) error {
	_, err := lookupJSON(testCtx.LastOutput, field)
	return err
}

// theErrorShouldMention checks the error and both output streams.
func (testCtx *TestContext) theErrorShouldMention(errorText string) error {
	if testCtx.LastExitCode == 0 {
		return fmt.Errorf("no error occurred, but expected error containing '%s'", errorText)
	}
	full := testCtx.LastOutput + " " + testCtx.LastStderr
	if !strings.Contains(strings.ToLower(full), strings.ToLower(errorText)) {
		return fmt.Errorf("error does not contain '%s'\nActual error: %s", errorText, full)
	}
	return nil
}

// theFileShouldExist checks a (substituted) path.
func (testCtx *TestContext) theFileShouldExist(filename string) error {
	path := testCtx.substitute(filename)
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("file %s does not exist: %w", path, err)
	}
	return nil
}

// theFileShouldContain checks a file's content.
func (testCtx *TestContext) theFileShouldContain(filename, expected string) error {
	path := testCtx.substitute(filename)
	data, err := os.ReadFile(path) //nolint:gosec // G304: test artifact path
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}
	if !strings.Contains(string(data), expected) {
		return fmt.Errorf("file %s does not contain '%s'", path, expected)
	}
	return nil
}

// lookupJSON walks a dotted path such as "result.zones.1.zone"; numeric
// parts index arrays.
func lookupJSON(doc, path string) (any, error) {
	var current any
	if err := json.Unmarshal([]byte(doc), &current); err != nil {
		return nil, fmt.Errorf("failed to parse JSON: %w\nDocument: %s", err, doc)
	}
	for _, part := range strings.Split(path, ".") {
		switch v := current.(type) {
		case map[string]any:
			next, ok := v[part]
			if !ok {
				return nil, fmt.Errorf("field '%s' not found in JSON", path)
			}
			current = next
		case []any:
			var idx int
			if _, err := fmt.Sscanf(part, "%d", &idx); err != nil || idx < 0 || idx >= len(v) {
				return nil, fmt.Errorf("invalid index '%s' in '%s'", part, path)
			}
			current = v[idx]
		default:
			return nil, fmt.Errorf("cannot navigate into non-object at '%s'", part)
		}
	}
	return current, nil
}

func jsonFieldEquals(doc, path, want string) error {
	got, err := lookupJSON(doc, path)
	if err != nil {
		return err
	}
	if s := fmt.Sprint(got); s != want {
		return fmt.Errorf("field '%s' is '%s', want '%s'", path, s, want)
	}
	return nil
}

// RegisterCommonSteps registers CLI steps.
func (testCtx *TestContext) RegisterCommonSteps(sc *godog.ScenarioContext) {
	sc.Step(`^the environment variable "([^"]*)" is set to "([^"]*)"$`, func(name, value string) error {
		testCtx.AddEnvVar(name, testCtx.substitute(value))
		return nil
	})
	sc.Step(`^I run "([^"]*)"$`, testCtx.iRunCommand)
	sc.Step(`^the command should succeed$`, testCtx.theCommandShouldSucceed)
	sc.Step(`^the command should fail$`, testCtx.theCommandShouldFail)
	sc.Step(`^the output should contain "([^"]*)"$`, testCtx.theOutputShouldContain)
	sc.Step(`^the output should be valid JSON$`, testCtx.theOutputShouldBeValidJSON)
	sc.Step(`^the JSON should contain "([^"]*)"$`, testCtx.theJSONShouldContain)
	sc.Step(`^the JSON field "([^"]*)" should be "([^"]*)"$`, func(path, want string) error {
		return jsonFieldEquals(testCtx.LastOutput, path, want)
	})
	sc.Step(`^the error should mention "([^"]*)"$`, testCtx.theErrorShouldMention)
	sc.Step(`^the file "([^"]*)" should exist$`, testCtx.theFileShouldExist)
	sc.Step(`^the file "([^"]*)" should contain "([^"]*)"$`, testCtx.theFileShouldContain)
}
