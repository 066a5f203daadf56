// Package k8sdriver implements [term.Driver] by running each session as a
// Kubernetes pod with tmux installed inside it, instead of a local tmux
// server. Selected with AGENTMUX_DRIVER=k8s. Eliminates subprocess
// overhead for sendKeys/capturePane by making direct API calls over a
// reused HTTP/2 connection, matching the teacher's native k8s session
// provider (internal/session/k8s/provider.go).
package k8sdriver

import (
	"bytes"
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/kubernetes/scheme"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
	"k8s.io/client-go/tools/remotecommand"

	"github.com/agentmux/agentmux/internal/term"
)

// ops abstracts the Kubernetes API surface the driver needs, the same
// separation the teacher draws between k8sOps and the Provider so unit
// tests can swap in a fake without a real cluster.
type ops interface {
	createPod(ctx context.Context, pod *corev1.Pod) (*corev1.Pod, error)
	getPod(ctx context.Context, name string) (*corev1.Pod, error)
	deletePod(ctx context.Context, name string) error
	listPods(ctx context.Context) ([]corev1.Pod, error)
	exec(ctx context.Context, pod string, cmd []string) (string, error)
}

// Driver hosts each AgentMux session as a pod running tmux. CapturePane
// and SendKeys exec into the pod and talk to the in-pod tmux server;
// CreateSession/KillSession create/delete the pod itself.
type Driver struct {
	ops       ops
	namespace string
	image     string
}

var _ term.Driver = (*Driver)(nil)

// New builds a [Driver] from an in-cluster or kubeconfig-based REST
// config. namespace and image configure where pods land and what they
// run; image must have tmux preinstalled.
func New(namespace, image, kubeContext string) (*Driver, error) {
	restConfig, err := buildRESTConfig(kubeContext)
	if err != nil {
		return nil, fmt.Errorf("building k8s config: %w", err)
	}
	clientset, err := kubernetes.NewForConfig(restConfig)
	if err != nil {
		return nil, fmt.Errorf("building k8s clientset: %w", err)
	}
	return &Driver{
		ops:       &realOps{clientset: clientset, restConfig: restConfig, namespace: namespace},
		namespace: namespace,
		image:     image,
	}, nil
}

// newDriverWithOps builds a Driver around a caller-supplied ops, letting
// tests swap in a fake without a real cluster.
func newDriverWithOps(o ops, namespace, image string) *Driver {
	return &Driver{ops: o, namespace: namespace, image: image}
}

func buildRESTConfig(kubeContext string) (*rest.Config, error) {
	if cfg, err := rest.InClusterConfig(); err == nil {
		return cfg, nil
	}
	rules := clientcmd.NewDefaultClientConfigLoadingRules()
	overrides := &clientcmd.ConfigOverrides{CurrentContext: kubeContext}
	return clientcmd.NewNonInteractiveDeferredLoadingClientConfig(rules, overrides).ClientConfig()
}

const execTimeout = 10 * time.Second

func (d *Driver) SessionExists(name string) (bool, error) {
	if err := term.ValidateName(name); err != nil {
		return false, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), execTimeout)
	defer cancel()
	_, err := d.ops.getPod(ctx, podName(name))
	if err != nil {
		return false, nil
	}
	return true, nil
}

func (d *Driver) CreateSession(name, workingDir, windowName string) error {
	if err := term.ValidateName(name); err != nil {
		return err
	}
	exists, err := d.SessionExists(name)
	if err != nil {
		return err
	}
	if exists {
		return term.NewError(term.KindAlreadyExists, "createSession", name, nil)
	}

	ctx, cancel := context.WithTimeout(context.Background(), execTimeout)
	defer cancel()
	pod := buildPod(d.namespace, d.image, name, workingDir)
	if _, err := d.ops.createPod(ctx, pod); err != nil {
		return term.NewError(term.KindSpawnFailed, "createSession", name, err)
	}

	// windowName just becomes the in-pod tmux window title, set via exec.
	if windowName != "" {
		cmd := []string{"tmux", "rename-window", "-t", name, windowName}
		_, _ = d.ops.exec(ctx, podName(name), cmd)
	}
	return nil
}

func (d *Driver) KillSession(name string) error {
	if err := term.ValidateName(name); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), execTimeout)
	defer cancel()
	if err := d.ops.deletePod(ctx, podName(name)); err != nil {
		return term.NewError(term.KindNotFound, "killSession", name, err)
	}
	return nil
}

// SendKeys builds the same "tmux send-keys" argv the tmux backend runs
// locally: literal strings get -l so tmux does not parse them as key
// names, named tokens ([term.Enter] etc.) are passed bare.
func (d *Driver) SendKeys(name string, keys []string) error {
	if err := term.ValidateName(name); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), execTimeout)
	defer cancel()
	cmd := []string{"tmux", "send-keys", "-t", name}
	for _, k := range keys {
		if isNamedKeyToken(k) {
			cmd = append(cmd, k)
			continue
		}
		cmd = append(cmd, "-l", "--", k)
	}
	_, err := d.ops.exec(ctx, podName(name), cmd)
	if err != nil {
		return term.NewError(term.KindNotFound, "sendKeys", name, err)
	}
	return nil
}

func isNamedKeyToken(k string) bool {
	switch k {
	case term.Enter, term.Escape, term.CtrlC, "Down", "Up", "Left", "Right", "Tab":
		return true
	default:
		return false
	}
}

func (d *Driver) CapturePane(name string, lastNLines int) (string, error) {
	if err := term.ValidateName(name); err != nil {
		return "", err
	}
	if err := term.ValidateLines(lastNLines); err != nil {
		return "", err
	}
	ctx, cancel := context.WithTimeout(context.Background(), execTimeout)
	defer cancel()
	cmd := []string{"tmux", "capture-pane", "-t", name, "-p", "-S", "-" + strconv.Itoa(lastNLines)}
	out, err := d.ops.exec(ctx, podName(name), cmd)
	if err != nil {
		return "", term.NewError(term.KindNotFound, "capturePane", name, err)
	}
	return out, nil
}

func (d *Driver) ListSessions() ([]term.SessionInfo, error) {
	ctx, cancel := context.WithTimeout(context.Background(), execTimeout)
	defer cancel()
	pods, err := d.ops.listPods(ctx)
	if err != nil {
		return nil, term.NewError(term.KindSpawnFailed, "listSessions", "", err)
	}
	var infos []term.SessionInfo
	for _, p := range pods {
		infos = append(infos, term.SessionInfo{
			Name:          p.Labels["agentmux.io/session"],
			CreatedAtUnix: p.CreationTimestamp.Unix(),
			Attached:      p.Status.Phase == corev1.PodRunning,
			WindowCount:   1,
		})
	}
	return infos, nil
}

func podName(session string) string {
	return "agentmux-" + sanitize(session)
}

func sanitize(s string) string {
	return strings.ToLower(strings.Map(func(r rune) rune {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '-' {
			return r
		}
		return '-'
	}, s))
}

// buildPod runs the in-pod tmux server through a shell: k8s execs
// Command+Args as argv directly, with no shell in between, so "&&" only
// chains "new-session" into "sleep infinity" when the container command
// itself is a shell invocation.
func buildPod(namespace, image, session, workDir string) *corev1.Pod {
	script := fmt.Sprintf("tmux new-session -d -s %s -c %s && sleep infinity",
		term.ShellQuote(session), term.ShellQuote(workDir))
	return &corev1.Pod{
		ObjectMeta: metav1.ObjectMeta{
			Name:      podName(session),
			Namespace: namespace,
			Labels: map[string]string{
				"app.kubernetes.io/managed-by": "agentmux",
				"agentmux.io/session":          session,
			},
		},
		Spec: corev1.PodSpec{
			RestartPolicy: corev1.RestartPolicyNever,
			Containers: []corev1.Container{{
				Name:       "session",
				Image:      image,
				WorkingDir: workDir,
				Command:    []string{"sh", "-c", script},
			}},
		},
	}
}

type realOps struct {
	clientset  kubernetes.Interface
	restConfig *rest.Config
	namespace  string
}

func (r *realOps) createPod(ctx context.Context, pod *corev1.Pod) (*corev1.Pod, error) {
	return r.clientset.CoreV1().Pods(r.namespace).Create(ctx, pod, metav1.CreateOptions{})
}

func (r *realOps) getPod(ctx context.Context, name string) (*corev1.Pod, error) {
	return r.clientset.CoreV1().Pods(r.namespace).Get(ctx, name, metav1.GetOptions{})
}

func (r *realOps) deletePod(ctx context.Context, name string) error {
	grace := int64(0)
	return r.clientset.CoreV1().Pods(r.namespace).Delete(ctx, name, metav1.DeleteOptions{GracePeriodSeconds: &grace})
}

func (r *realOps) listPods(ctx context.Context) ([]corev1.Pod, error) {
	list, err := r.clientset.CoreV1().Pods(r.namespace).List(ctx, metav1.ListOptions{
		LabelSelector: "app.kubernetes.io/managed-by=agentmux",
	})
	if err != nil {
		return nil, err
	}
	return list.Items, nil
}

func (r *realOps) exec(ctx context.Context, pod string, cmd []string) (string, error) {
	req := r.clientset.CoreV1().RESTClient().
		Post().
		Resource("pods").
		Name(pod).
		Namespace(r.namespace).
		SubResource("exec").
		VersionedParams(&corev1.PodExecOptions{
			Container: "session",
			Command:   cmd,
			Stdout:    true,
			Stderr:    true,
		}, scheme.ParameterCodec)

	exec, err := remotecommand.NewSPDYExecutor(r.restConfig, "POST", req.URL())
	if err != nil {
		return "", fmt.Errorf("creating SPDY executor: %w", err)
	}
	var stdout, stderr bytes.Buffer
	if err := exec.StreamWithContext(ctx, remotecommand.StreamOptions{Stdout: &stdout, Stderr: &stderr}); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg != "" {
			return stdout.String(), fmt.Errorf("exec in pod %s: %s: %w", pod, msg, err)
		}
		return stdout.String(), fmt.Errorf("exec in pod %s: %w", pod, err)
	}
	return stdout.String(), nil
}
