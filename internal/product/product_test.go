package product

import "testing"

func TestFromDrizzleFileFilterProduct(t *testing.T) {
	p, err := FromDrizzleFile("hst_10265_01_acs_wfc_f606w_j92c01_drc.fits")
	if err != nil {
		t.Fatal(err)
	}
	if p.Kind != KindComposite {
		t.Errorf("Kind = %v, want composite", p.Kind)
	}
	if p.Telescope != "hst" || p.ProposalID != "10265" || p.Visit != "01" {
		t.Errorf("identity = %s/%s/%s", p.Telescope, p.ProposalID, p.Visit)
	}
	if p.Instrument != "acs" || p.Detector != "wfc" || p.Filter != "f606w" {
		t.Errorf("instrument = %s/%s/%s", p.Instrument, p.Detector, p.Filter)
	}
	if p.IPPPSS != "j92c01" {
		t.Errorf("IPPPSS = %s", p.IPPPSS)
	}
	if p.PointCat != "hst_10265_01_acs_wfc_f606w_j92c01_point-cat.ecsv" {
		t.Errorf("PointCat = %s", p.PointCat)
	}
	if p.SegmentCat != "hst_10265_01_acs_wfc_f606w_j92c01_segment-cat.ecsv" {
		t.Errorf("SegmentCat = %s", p.SegmentCat)
	}
}

func TestFromDrizzleFileTotalProduct(t *testing.T) {
	p, err := FromDrizzleFile("hst_10265_01_acs_wfc_total_j92c01_drz.fits")
	if err != nil {
		t.Fatal(err)
	}
	if p.Filter != "" {
		t.Errorf("total product Filter = %q, want empty", p.Filter)
	}
}

func TestFromDrizzleFileStripsDirectory(t *testing.T) {
	p, err := FromDrizzleFile("/data/run7/hst_10265_01_acs_wfc_total_j92c01_drz.fits")
	if err != nil {
		t.Fatal(err)
	}
	if p.IPPPSS != "j92c01" {
		t.Errorf("IPPPSS = %s", p.IPPPSS)
	}
}

func TestFromDrizzleFileRejectsMalformed(t *testing.T) {
	for _, name := range []string{
		"j92c01b4q_flc.fits",
		"hst_10265_01_acs_wfc_drz.fits",
		"",
	} {
		if _, err := FromDrizzleFile(name); err == nil {
			t.Errorf("malformed name %q accepted", name)
		}
	}
}

func TestConstituentImages(t *testing.T) {
	p, err := FromDrizzleFile("hst_10265_01_acs_wfc_total_j92c01_drz.fits")
	if err != nil {
		t.Fatal(err)
	}
	p.Exposures = []string{"j92c01b4q_flc.fits", "j92c01b5q_flc.fits"}
	if got := p.ConstituentImages(); len(got) != 2 {
		t.Errorf("composite images = %v", got)
	}

	e, err := NewExposure("hst_10265_01_acs_wfc_f606w_j92c01_drz.fits", "j92c01b4q_flc.fits")
	if err != nil {
		t.Fatal(err)
	}
	if e.Kind != KindExposure {
		t.Errorf("Kind = %v, want exposure", e.Kind)
	}
	got := e.ConstituentImages()
	if len(got) != 1 || got[0] != "j92c01b4q_flc.fits" {
		t.Errorf("exposure images = %v", got)
	}
}

func TestStem(t *testing.T) {
	p, err := FromDrizzleFile("hst_10265_01_acs_wfc_total_j92c01_drz.fits")
	if err != nil {
		t.Fatal(err)
	}
	if p.Stem() != "hst_10265_01_acs_wfc_total_j92c01" {
		t.Errorf("Stem = %s", p.Stem())
	}
	if got := DrizzleStem("hst_1_2_acs_wfc_total_j92c01_drc.fits"); got != "hst_1_2_acs_wfc_total_j92c01" {
		t.Errorf("DrizzleStem = %s", got)
	}
}
