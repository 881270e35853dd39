package plugin

import "testing"

func TestWorkerResolverManifestCommandWins(t *testing.T) {
	r := NewWorkerResolver("xnote-plugin-worker", "XNOTE_TEST_WORKER_PATH_UNUSED", []string{"--default-arg"})
	manifest := PluginManifest{ID: "demo", Command: []string{"/opt/plugins/demo/run", "--flag"}}

	cmd, err := r.Resolve(manifest)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(cmd) != 2 || cmd[0] != "/opt/plugins/demo/run" || cmd[1] != "--flag" {
		t.Fatalf("expected the manifest command to win outright, got %v", cmd)
	}
}

func TestWorkerResolverEnvOverrideTakesPrecedenceOverBinaryName(t *testing.T) {
	t.Setenv("XNOTE_TEST_WORKER_PATH", "/usr/local/bin/xnote-plugin-worker-fixture")

	r := NewWorkerResolver("a-binary-name-that-does-not-exist-on-path", "XNOTE_TEST_WORKER_PATH", []string{"--serve"})
	cmd, err := r.Resolve(PluginManifest{ID: "demo"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(cmd) != 2 || cmd[0] != "/usr/local/bin/xnote-plugin-worker-fixture" || cmd[1] != "--serve" {
		t.Fatalf("expected the env override path plus args, got %v", cmd)
	}
}

func TestWorkerResolverFailsWithoutBinaryNameOrEnvOverride(t *testing.T) {
	r := NewWorkerResolver("", "", nil)
	if _, err := r.Resolve(PluginManifest{ID: "demo"}); err == nil {
		t.Fatal("expected an error when no binary name or env override resolves to anything")
	}
}

func TestWorkerResolverCachesResolvedBinary(t *testing.T) {
	t.Setenv("XNOTE_TEST_WORKER_PATH", "/usr/local/bin/xnote-plugin-worker-fixture")

	r := NewWorkerResolver("unused", "XNOTE_TEST_WORKER_PATH", nil)
	first, err := r.Resolve(PluginManifest{ID: "demo"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	t.Setenv("XNOTE_TEST_WORKER_PATH", "/usr/local/bin/changed-after-first-resolve")
	second, err := r.Resolve(PluginManifest{ID: "demo"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if first[0] != second[0] {
		t.Fatalf("expected the resolved binary to stay cached across calls, got %v then %v", first, second)
	}
}
