package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/arkilian/cdcflow/internal/cdcerrors"
)

func writeYAML(t *testing.T, dir, contents string) string {
	t.Helper()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

func TestLoad_FlattensNestedYAMLKeys(t *testing.T) {
	path := writeYAML(t, t.TempDir(), "aws:\n  region: us-east-1\n  kinesis:\n    endpointUrl: http://localhost:4566\n")

	v, err := Load(path, nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if val, ok := v.Get("aws.region"); !ok || val != "us-east-1" {
		t.Errorf("expected aws.region=us-east-1, got %q ok=%v", val, ok)
	}
	if val, ok := v.Get("aws.kinesis.endpointUrl"); !ok || val != "http://localhost:4566" {
		t.Errorf("expected aws.kinesis.endpointUrl=http://localhost:4566, got %q ok=%v", val, ok)
	}
}

func TestLoad_MissingYAMLFileIsNotAnError(t *testing.T) {
	v, err := Load(filepath.Join(t.TempDir(), "absent.yaml"), nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if _, ok := v.Get("anything"); ok {
		t.Error("expected no values from an absent YAML file")
	}
}

func TestLoad_CLIArgsOverrideYAML(t *testing.T) {
	path := writeYAML(t, t.TempDir(), "aws:\n  region: us-east-1\n")

	v, err := Load(path, []string{"--aws.region", "eu-west-1"})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if val, _ := v.Get("aws.region"); val != "eu-west-1" {
		t.Errorf("expected CLI arg to override YAML value, got %q", val)
	}
}

func TestLoad_EnvironmentFallsBackWhenFlatKeyAbsent(t *testing.T) {
	t.Setenv("AWS_REGION", "ap-south-1")

	v, err := Load("", nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if val, ok := v.Get("aws.region"); !ok || val != "ap-south-1" {
		t.Errorf("expected aws.region from environment, got %q ok=%v", val, ok)
	}
}

func TestLoad_FlatKeyTakesPrecedenceOverEnvironment(t *testing.T) {
	t.Setenv("AWS_REGION", "ap-south-1")
	path := writeYAML(t, t.TempDir(), "aws:\n  region: us-east-1\n")

	v, err := Load(path, nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if val, _ := v.Get("aws.region"); val != "us-east-1" {
		t.Errorf("expected YAML value to take precedence over environment, got %q", val)
	}
}

func TestParseArgs_AcceptsAllThreeForms(t *testing.T) {
	out := parseArgs([]string{"--a", "1", "-b=2", "c=3"})
	if out["a"] != "1" || out["b"] != "2" || out["c"] != "3" {
		t.Errorf("unexpected parse result: %#v", out)
	}
}

func TestMustGet_ReturnsConfigMissingWhenAbsent(t *testing.T) {
	v, err := Load("", nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	_, err = v.MustGet("does.not.exist")
	if err == nil {
		t.Fatal("expected ConfigMissing error")
	}
	if cdcerrors.GetCategory(err) != cdcerrors.CategoryConfigMissing {
		t.Fatalf("expected CategoryConfigMissing, got %v", cdcerrors.GetCategory(err))
	}
}

func TestGetInt_ParsesAndReportsAbsence(t *testing.T) {
	v, err := Load("", []string{"--batch", "30"})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	n, ok, err := v.GetInt("batch")
	if err != nil || !ok || n != 30 {
		t.Fatalf("expected 30, true, nil; got %d, %v, %v", n, ok, err)
	}
	_, ok, err = v.GetInt("absent")
	if err != nil || ok {
		t.Fatalf("expected absent key to report ok=false, got ok=%v err=%v", ok, err)
	}
}

func TestGetInt_RejectsNonIntegerValue(t *testing.T) {
	v, err := Load("", []string{"--batch", "not-a-number"})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if _, _, err := v.GetInt("batch"); err == nil {
		t.Fatal("expected a parse error for a non-integer value")
	}
}

func TestGetDuration_TreatsValueAsSeconds(t *testing.T) {
	v, err := Load("", []string{"--interval", "5"})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	d, ok, err := v.GetDuration("interval")
	if err != nil || !ok || d.Seconds() != 5 {
		t.Fatalf("expected 5s, true, nil; got %v, %v, %v", d, ok, err)
	}
}

func TestLoadRetryPolicy_FillsAbsentKeysFromDefaults(t *testing.T) {
	v, err := Load("", []string{"--dataStorage.retry.maxAttempts", "9"})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	policy, err := LoadRetryPolicy(v)
	if err != nil {
		t.Fatalf("LoadRetryPolicy: %v", err)
	}
	if policy.MaxAttempts != 9 {
		t.Errorf("expected overridden MaxAttempts=9, got %d", policy.MaxAttempts)
	}
	if policy.MinWait == 0 {
		t.Error("expected default MinWait to be preserved for an unset key")
	}
}

func TestLoadStreamerConfig_FailsFastOnMissingMandatoryKey(t *testing.T) {
	v, err := Load("", nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if _, err := LoadStreamerConfig(v); err == nil {
		t.Fatal("expected failure for missing kinesis.reader.streamName")
	}
}

func TestLoadDomainConfig_RejectsUnknownOperation(t *testing.T) {
	args := []string{
		"--domain.target.path", "domain/caseload/incidents",
		"--domain.name", "caseload",
		"--domain.table.name", "incidents",
		"--domain.registry", "registry.yaml",
		"--domain.operation", "truncate",
	}
	v, err := Load("", args)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if _, err := LoadDomainConfig(v); err == nil {
		t.Fatal("expected rejection of an operation outside insert/update/delete")
	}
}

func TestLoadDomainConfig_AcceptsValidOperation(t *testing.T) {
	args := []string{
		"--domain.target.path", "domain/caseload/incidents",
		"--domain.name", "caseload",
		"--domain.table.name", "incidents",
		"--domain.registry", "registry.yaml",
		"--domain.operation", "update",
	}
	v, err := Load("", args)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	cfg, err := LoadDomainConfig(v)
	if err != nil {
		t.Fatalf("LoadDomainConfig: %v", err)
	}
	if cfg.Operation != "update" {
		t.Errorf("expected operation=update, got %s", cfg.Operation)
	}
}

func TestLoadMaintenanceConfig_ReadsRootAndRetryPolicy(t *testing.T) {
	v, err := Load("", []string{"--structured.s3.path", "structured"})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	cfg, err := LoadMaintenanceConfig(v, "structured.s3.path")
	if err != nil {
		t.Fatalf("LoadMaintenanceConfig: %v", err)
	}
	if cfg.Root != "structured" {
		t.Errorf("expected root=structured, got %s", cfg.Root)
	}
}
