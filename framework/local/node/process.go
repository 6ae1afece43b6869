package node

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"syscall"

	"github.com/hoprnet/localcluster/framework/types"
	"go.uber.org/zap"
)

// LaunchSpec is everything needed to spawn a node process.
type LaunchSpec struct {
	Name  string
	Bin   string
	Args  []string
	Env   []string
	Dir   string
	Host  string
	Ports types.NodePorts
	// LogFile receives stdout and stderr, appended.
	LogFile string
}

// Process is a running node process.
type Process interface {
	Pid() int
	// Kill terminates the process without a graceful shutdown.
	Kill() error
}

// Launcher spawns node processes.
type Launcher interface {
	Launch(ctx context.Context, spec LaunchSpec) (Process, error)
}

// ExecLauncher runs nodes as child processes in their own process group.
type ExecLauncher struct{}

var _ Launcher = ExecLauncher{}

func (ExecLauncher) Launch(_ context.Context, spec LaunchSpec) (Process, error) {
	logFile, err := os.OpenFile(spec.LogFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("%w: open log file: %v", types.ErrIO, err)
	}

	// the process outlives the launching context, it is only ever stopped through Kill.
	cmd := exec.Command(spec.Bin, spec.Args...)
	cmd.Dir = spec.Dir
	cmd.Env = append(os.Environ(), spec.Env...)
	cmd.Stdout = logFile
	cmd.Stderr = logFile
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if err := cmd.Start(); err != nil {
		_ = logFile.Close()
		return nil, fmt.Errorf("%w: start %s: %v", types.ErrProcess, spec.Name, err)
	}

	p := &execProcess{cmd: cmd, done: make(chan struct{})}
	go func() {
		_ = cmd.Wait()
		_ = logFile.Close()
		close(p.done)
	}()
	return p, nil
}

type execProcess struct {
	cmd  *exec.Cmd
	done chan struct{}
}

func (p *execProcess) Pid() int { return p.cmd.Process.Pid }

// Kill sends SIGKILL to the whole process group so helpers spawned by the node die with it.
func (p *execProcess) Kill() error {
	select {
	case <-p.done:
		return nil
	default:
	}
	if err := syscall.Kill(-p.cmd.Process.Pid, syscall.SIGKILL); err != nil && !errors.Is(err, syscall.ESRCH) {
		return err
	}
	<-p.done
	return nil
}

// SetupConfig carries the cluster-wide inputs of a node start.
type SetupConfig struct {
	Password       string
	ProtocolConfig string
	// Dir is the working directory of the node process.
	Dir string
	// Tag is appended to the log file name.
	Tag string
}

// Args returns the command line the node is started with.
func (n *Node) Args(password, protocolConfig string) []string {
	ports := n.Ports()
	args := []string{
		"--announce",
		"--apiHost=" + n.cfg.Host,
		"--apiPort=" + strconv.Itoa(ports.API),
		"--data=" + n.DataDir(),
		fmt.Sprintf("--host=%s:%d", n.cfg.Host, ports.P2P),
		"--identity=" + n.IdentityPath(),
		"--network=" + n.cfg.Network,
		"--password=" + password,
		"--protocolConfig=" + protocolConfig,
		fmt.Sprintf("--provider=http://127.0.0.1:%d", ports.Chain),
	}
	if n.cfg.APIToken != "" {
		args = append(args, "--api-token="+n.cfg.APIToken)
	} else {
		args = append(args, "--disableApiAuthentication")
	}
	if n.cfg.ConfigFile != "" {
		args = append(args, "--configurationFilePath="+n.configPath())
	}
	return args
}

func (n *Node) configPath() string {
	if n.cfg.ConfigFile == "" {
		return ""
	}
	return filepath.Join(n.cfg.Dir, n.cfg.ConfigFile)
}

// Env returns the variables added to the node environment.
func (n *Node) Env() []string {
	env := []string{
		"HOPRD_SAFE_ADDRESS=" + n.SafeAddress().Hex(),
		"HOPRD_MODULE_ADDRESS=" + n.ModuleAddress().Hex(),
	}
	if n.cfg.NAT {
		env = append(env, "HOPRD_NAT=true")
	}
	return env
}

// Setup spawns the node process and takes ownership of it.
func (n *Node) Setup(ctx context.Context, cfg SetupConfig) error {
	if n.State() < types.PortsAssigned {
		return fmt.Errorf("%w: %s has no ports assigned", types.ErrConfiguration, n.Name())
	}

	spec := LaunchSpec{
		Name:    n.Name(),
		Bin:     n.cfg.Bin,
		Args:    n.Args(cfg.Password, cfg.ProtocolConfig),
		Env:     n.Env(),
		Dir:     cfg.Dir,
		Host:    n.cfg.Host,
		Ports:   n.Ports(),
		LogFile: n.LogPath(cfg.Tag),
	}
	n.logger.Info("starting node", zap.String("log", spec.LogFile), zap.Int("api", spec.Ports.API), zap.Int("p2p", spec.Ports.P2P))

	proc, err := n.cfg.Launcher.Launch(ctx, spec)
	if err != nil {
		return fmt.Errorf("setup %s: %w", n.Name(), err)
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	n.proc = proc
	n.advance(types.Starting)
	return nil
}

// CleanUp kills the node process and, when removeData is set, deletes its data directory.
// Failures are logged only.
func (n *Node) CleanUp(removeData bool) {
	n.mu.Lock()
	proc := n.proc
	n.proc = nil
	n.advance(types.Terminated)
	n.mu.Unlock()

	if proc != nil {
		if err := proc.Kill(); err != nil {
			n.logger.Warn("failed to kill node", zap.Int("pid", proc.Pid()), zap.Error(err))
		} else {
			n.logger.Info("node stopped", zap.Int("pid", proc.Pid()))
		}
	}

	if removeData {
		if err := os.RemoveAll(n.DataDir()); err != nil {
			n.logger.Warn("failed to remove node data", zap.String("dir", n.DataDir()), zap.Error(err))
		}
	}
}
