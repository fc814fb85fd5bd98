package tests

import (
	"bufio"
	"fmt"
	"io"
	"log"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"
)

// Minbif holds information about a harnessed minbif process.
type Minbif struct {
	Name      string
	Port      uint16
	Stderr    io.ReadCloser
	Stdout    io.ReadCloser
	Command   *exec.Cmd
	WaitGroup *sync.WaitGroup
	ConfigDir string
	LogChan   <-chan string
}

// Directory holding package main.
const minbifDir = ".."

var (
	buildOnce   sync.Once
	buildErr    error
	minbifPath  string
	buildTmpDir string
)

func TestMain(m *testing.M) {
	code := m.Run()
	if buildTmpDir != "" {
		_ = os.RemoveAll(buildTmpDir)
	}
	os.Exit(code)
}

func harnessMinbif(name string) (*Minbif, error) {
	if err := buildMinbif(); err != nil {
		return nil, fmt.Errorf("error building minbif: %s", err)
	}

	minbif, err := startMinbif(name)
	if err != nil {
		return nil, fmt.Errorf("error starting minbif: %s", err)
	}

	var wg sync.WaitGroup

	logChan := make(chan string, 1024)

	wg.Add(1)
	go logReader(&wg, fmt.Sprintf("%s stderr", name), minbif.Stderr, logChan)

	wg.Add(1)
	go logReader(&wg, fmt.Sprintf("%s stdout", name), minbif.Stdout, logChan)

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := minbif.Command.Wait(); err != nil {
			log.Printf("minbif exited: %s", err)
		}
	}()

	minbif.WaitGroup = &wg
	minbif.LogChan = logChan

	// Wait for the listener to be up before connecting clients.
	startedRE := regexp.MustCompile(`msg="minbif started"`)

	if !waitForLog(logChan, startedRE) {
		minbif.stop()
		return nil, fmt.Errorf("error waiting for minbif to start")
	}

	return minbif, nil
}

func buildMinbif() error {
	buildOnce.Do(func() {
		dir, err := os.MkdirTemp("", "minbif-build-")
		if err != nil {
			buildErr = fmt.Errorf("error creating build directory: %s", err)
			return
		}
		buildTmpDir = dir
		minbifPath = filepath.Join(dir, "minbif")

		cmd := exec.Command("go", "build", "-o", minbifPath, ".")
		cmd.Dir = minbifDir

		log.Printf("Running %s in [%s]...", cmd.Args, cmd.Dir)
		output, err := cmd.CombinedOutput()
		if err != nil {
			buildErr = fmt.Errorf("error building minbif: %s: %s", err, output)
		}
	})
	return buildErr
}

func startMinbif(name string) (*Minbif, error) {
	tmpDir, err := os.MkdirTemp("", "minbif-")
	if err != nil {
		return nil, fmt.Errorf("error retrieving a temporary directory: %s", err)
	}

	port, err := getRandomPort()
	if err != nil {
		_ = os.RemoveAll(tmpDir)
		return nil, fmt.Errorf("error finding a random port: %s", err)
	}

	conf := filepath.Join(tmpDir, "minbif.conf")
	if err := writeConf(tmpDir, conf, name, port); err != nil {
		_ = os.RemoveAll(tmpDir)
		return nil, err
	}

	cmd := exec.Command(minbifPath, "-m", "1", conf)

	stderr, err := cmd.StderrPipe()
	if err != nil {
		_ = os.RemoveAll(tmpDir)
		return nil, fmt.Errorf("error retrieving stderr pipe: %s", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		_ = stderr.Close()
		_ = os.RemoveAll(tmpDir)
		return nil, fmt.Errorf("error retrieving stdout pipe: %s", err)
	}

	if err := cmd.Start(); err != nil {
		_ = stderr.Close()
		_ = stdout.Close()
		_ = os.RemoveAll(tmpDir)
		return nil, fmt.Errorf("error starting: %s", err)
	}

	return &Minbif{
		Name:      name,
		Port:      port,
		Command:   cmd,
		Stderr:    stderr,
		Stdout:    stdout,
		ConfigDir: tmpDir,
	}, nil
}

// getRandomPort finds a free port. Something else could take it before
// minbif binds it, but that is unlikely on a test host.
func getRandomPort() (uint16, error) {
	ln, err := net.Listen("tcp4", "127.0.0.1:")
	if err != nil {
		return 0, fmt.Errorf("error opening a random port: %s", err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	if err := ln.Close(); err != nil {
		return 0, fmt.Errorf("error closing listener: %s", err)
	}
	return uint16(port), nil
}

func writeConf(dir, conf, name string, port uint16) error {
	opers := filepath.Join(dir, "opers.conf")
	if err := os.WriteFile(opers, []byte("admin = operpass,admin@example.org\n"),
		0o600); err != nil {
		return fmt.Errorf("error writing opers conf: %s", err)
	}

	motd := filepath.Join(dir, "motd.txt")
	if err := os.WriteFile(motd, []byte("Hello from "+name+"\n"),
		0o600); err != nil {
		return fmt.Errorf("error writing motd: %s", err)
	}

	buf := fmt.Sprintf(`
path-users = %s
path-motd = %s
irc-hostname = %s
irc-ping = 10s
opers-config = %s
logging-level = info
listen-host = 127.0.0.1
listen-port = %d
`, filepath.Join(dir, "users"), motd, name, opers, port)

	if err := os.WriteFile(conf, []byte(buf), 0o600); err != nil {
		return fmt.Errorf("error writing conf: %s: %s", name, err)
	}

	return nil
}

func logReader(
	wg *sync.WaitGroup,
	prefix string,
	r io.Reader,
	ch chan<- string,
) {
	defer wg.Done()

	scanner := bufio.NewScanner(r)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		log.Printf("%s: %s", prefix, line)

		select {
		case ch <- line:
		default:
		}
	}
}

func (m *Minbif) stop() {
	if err := m.Command.Process.Kill(); err != nil {
		log.Printf("error killing minbif: %s", err)
	}
	m.WaitGroup.Wait()

	if err := os.RemoveAll(m.ConfigDir); err != nil {
		log.Printf("error cleaning up temporary directory: %s", err)
	}
}

func waitForLog(ch <-chan string, re *regexp.Regexp) bool {
	timeoutChan := time.After(30 * time.Second)

	for {
		select {
		case s := <-ch:
			if re.MatchString(s) {
				return true
			}
		case <-timeoutChan:
			return false
		}
	}
}
