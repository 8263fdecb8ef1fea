package diskdefs

import "testing"

func TestIBM3740DerivedDPB(t *testing.T) {
	r, err := Defaults()
	if err != nil {
		t.Fatalf("Defaults: %v", err)
	}
	d, ok := r.Get("ibm-3740")
	if !ok {
		t.Fatalf("ibm-3740 not found, have %v", r.List())
	}

	if got := d.BSH(); got != 3 {
		t.Fatalf("BSH = %d, want 3", got)
	}
	if got := d.BLM(); got != 7 {
		t.Fatalf("BLM = %d, want 7", got)
	}
	if got := d.DRM(); got != 63 {
		t.Fatalf("DRM = %d, want 63", got)
	}
	if got := d.OFF(); got != 2 {
		t.Fatalf("OFF = %d, want 2", got)
	}
	if err := d.IsValid(); err != nil {
		t.Fatalf("IsValid: %v", err)
	}
}

func TestBuildXLTIdentityWithoutSkew(t *testing.T) {
	d := Default()
	d.Name = "noskew"
	d.SecTrk = 4
	xlt := d.BuildXLT()
	for i, v := range xlt {
		if v != i+1 {
			t.Fatalf("xlt[%d] = %d, want %d", i, v, i+1)
		}
	}
}

func TestBuildXLTExplicitSkewTab(t *testing.T) {
	d := Default()
	d.Name = "explicit"
	d.SecTrk = 3
	d.SkewTab = []int{3, 1, 2}
	xlt := d.BuildXLT()
	want := []int{3, 1, 2}
	for i := range want {
		if xlt[i] != want[i] {
			t.Fatalf("xlt[%d] = %d, want %d", i, xlt[i], want[i])
		}
	}
}

func TestCPM22CapacityCeilingRejected(t *testing.T) {
	d := Default()
	d.Name = "too-big"
	d.Tracks = 65535
	d.SecTrk = 255
	d.SecLen = 4096
	d.OS = OSCPM22
	if err := d.IsValid(); err == nil {
		t.Fatalf("expected IsValid to reject an oversized CP/M 2.2 image")
	}
}

func TestLoadStringParsesMultipleBlocks(t *testing.T) {
	r := NewRegistry()
	err := r.LoadString(`
diskdef a
  seclen 128
  tracks 40
  sectrk 10
  blocksize 1024
  maxdir 64
  boottrk 2
  os 2.2
end

diskdef b
  seclen 512
  tracks 80
  sectrk 9
  blocksize 2048
  maxdir 128
  boottrk 2
  os 2.2
end
`)
	if err != nil {
		t.Fatalf("LoadString: %v", err)
	}
	if r.Count() != 2 {
		t.Fatalf("Count() = %d, want 2", r.Count())
	}
	if _, ok := r.Get("a"); !ok {
		t.Fatalf("missing definition a")
	}
	if _, ok := r.Get("b"); !ok {
		t.Fatalf("missing definition b")
	}
}

func TestFindByGeometryMatchesIBM3740(t *testing.T) {
	r, err := Defaults()
	if err != nil {
		t.Fatalf("Defaults: %v", err)
	}
	d, ok := r.FindByGeometry(77, 26, 128)
	if !ok {
		t.Fatalf("expected a geometry match for 77/26/128")
	}
	if d.Name != "ibm-3740" {
		t.Fatalf("FindByGeometry matched %q, want ibm-3740", d.Name)
	}
}
