package regulatory

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/hadesus/analyzerforCP/internal/formulary"
	"github.com/hadesus/analyzerforCP/internal/llm"
	"github.com/hadesus/analyzerforCP/internal/model"
)

// ListMembership asks the LLM whether a drug appears on a named reference
// list. It is a plausibility check, not an authoritative lookup.
type ListMembership struct {
	listName string
	llm      llm.Caller
}

func NewListMembership(listName string, caller llm.Caller) *ListMembership {
	return &ListMembership{listName: listName, llm: caller}
}

func (l *ListMembership) Ask(ctx context.Context, inn string) (model.RegulatoryStatus, error) {
	if l == nil || l.llm == nil {
		return model.RegulatoryStatus{}, errors.New("no llm configured")
	}
	prompt := fmt.Sprintf(`Is the drug with International Nonproprietary Name "%s" included in the %s?
Answer with exactly one of: "Found", "Not Found", "Unknown".`, inn, l.listName)
	resp, err := l.llm.Generate(ctx, prompt, llm.Options{Temperature: 0, MaxTokens: 20})
	if err != nil {
		return model.RegulatoryStatus{}, err
	}
	return model.RegulatoryStatus{Status: parseMembership(resp), Detail: "LLM plausibility check against the " + l.listName}, nil
}

func parseMembership(resp string) model.Status {
	r := strings.ToLower(strings.TrimSpace(resp))
	switch {
	case strings.Contains(r, "not found"), strings.Contains(r, "not_found"), strings.Contains(r, "не найден"):
		return model.StatusNotFound
	case strings.Contains(r, "found"), strings.Contains(r, "найден"):
		return model.StatusFound
	default:
		return model.StatusUnknown
	}
}

// LocalFormulary searches the loaded formulary corpora. With no corpus
// loaded it falls back to an LLM plausibility check.
type LocalFormulary struct {
	index    *formulary.Index
	fallback *ListMembership
}

func NewLocalFormulary(index *formulary.Index, fallback *ListMembership) *LocalFormulary {
	return &LocalFormulary{index: index, fallback: fallback}
}

func (f *LocalFormulary) Regulator() model.Regulator { return model.RegulatorLocalFormulary }

func (f *LocalFormulary) Check(ctx context.Context, s Subject) (model.RegulatoryStatus, error) {
	if !f.index.Available() {
		if f.fallback == nil {
			return model.RegulatoryStatus{Status: model.StatusUnknown, Detail: "no formulary corpus loaded"}, nil
		}
		return f.fallback.Ask(ctx, s.INN)
	}
	res := f.index.Search(s.SourceName, s.INN)
	if !res.Found() {
		return model.RegulatoryStatus{Status: model.StatusNotFound, Detail: res.Status}, nil
	}
	return model.RegulatoryStatus{Status: model.StatusFound, Detail: res.Status + "\n" + res.Detail}, nil
}

// EssentialMedicines checks the WHO Model List of Essential Medicines: a
// static core list first, then the LLM.
type EssentialMedicines struct {
	fallback *ListMembership
}

func NewEssentialMedicines(fallback *ListMembership) *EssentialMedicines {
	return &EssentialMedicines{fallback: fallback}
}

func (e *EssentialMedicines) Regulator() model.Regulator {
	return model.RegulatorEssentialMedicinesList
}

func (e *EssentialMedicines) Check(ctx context.Context, s Subject) (model.RegulatoryStatus, error) {
	if onCoreList(s.INN) {
		return model.RegulatoryStatus{Status: model.StatusFound, Detail: "WHO Model List of Essential Medicines (core list)"}, nil
	}
	if e.fallback == nil {
		return model.RegulatoryStatus{Status: model.StatusUnknown}, nil
	}
	return e.fallback.Ask(ctx, s.INN)
}

func onCoreList(inn string) bool {
	_, ok := whoCoreList[strings.ToLower(strings.Join(strings.Fields(inn), " "))]
	return ok
}

// whoCoreList is a subset of the WHO Model List of Essential Medicines.
var whoCoreList = map[string]struct{}{
	"acetylsalicylic acid": {}, "aciclovir": {}, "adrenaline": {}, "epinephrine": {},
	"albendazole": {}, "allopurinol": {}, "amikacin": {}, "amiodarone": {},
	"amitriptyline": {}, "amlodipine": {}, "amoxicillin": {}, "amoxicillin + clavulanic acid": {},
	"ampicillin": {}, "artemether + lumefantrine": {}, "atenolol": {}, "atropine": {},
	"azithromycin": {}, "beclometasone": {}, "benzylpenicillin": {}, "bisoprolol": {},
	"budesonide": {}, "calcium gluconate": {}, "carbamazepine": {}, "cefalexin": {},
	"cefazolin": {}, "cefixime": {}, "ceftriaxone": {}, "chloramphenicol": {},
	"ciprofloxacin": {}, "clarithromycin": {}, "clindamycin": {}, "clopidogrel": {},
	"cloxacillin": {}, "codeine": {}, "dexamethasone": {}, "diazepam": {},
	"diclofenac": {}, "digoxin": {}, "doxycycline": {}, "enalapril": {},
	"enoxaparin": {}, "erythromycin": {}, "fluconazole": {}, "fluoxetine": {},
	"folic acid": {}, "furosemide": {}, "gentamicin": {}, "gliclazide": {},
	"glucose": {}, "haloperidol": {}, "heparin sodium": {}, "hydrochlorothiazide": {},
	"hydrocortisone": {}, "ibuprofen": {}, "insulin (soluble)": {}, "isoniazid": {},
	"ketamine": {}, "lamotrigine": {}, "levothyroxine": {}, "lidocaine": {},
	"lisinopril": {}, "loratadine": {}, "losartan": {}, "magnesium sulfate": {},
	"metformin": {}, "methotrexate": {}, "metoclopramide": {}, "metoprolol": {},
	"metronidazole": {}, "midazolam": {}, "morphine": {}, "nifedipine": {},
	"nitrofurantoin": {}, "omeprazole": {}, "ondansetron": {}, "oxytocin": {},
	"paracetamol": {}, "phenobarbital": {}, "phenytoin": {}, "prednisolone": {},
	"propranolol": {}, "ranitidine": {}, "rifampicin": {}, "salbutamol": {},
	"simvastatin": {}, "spironolactone": {}, "sulfamethoxazole + trimethoprim": {},
	"tramadol": {}, "valproic acid": {}, "vancomycin": {}, "verapamil": {},
	"warfarin": {}, "zinc sulfate": {},
}
