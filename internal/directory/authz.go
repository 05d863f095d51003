package directory

// Covers reports whether the assignment grants authority over the given
// branch, subject and batch. An empty batch asks for branch-wide authority,
// which only an AllBatches assignment carries.
func (a FacultyAssignment) Covers(branchID, subjectID, batchID string) bool {
	if a.BranchID != branchID || a.SubjectID != subjectID {
		return false
	}
	if a.BatchID == AllBatches {
		return true
	}
	return batchID != "" && a.BatchID == batchID
}

// CanMark reports whether any of the assignments covers every requested batch.
func CanMark(assignments []FacultyAssignment, branchID, subjectID string, batchIDs ...string) bool {
	if len(batchIDs) == 0 {
		batchIDs = []string{""}
	}
	for _, batch := range batchIDs {
		covered := false
		for _, a := range assignments {
			if a.Covers(branchID, subjectID, batch) {
				covered = true
				break
			}
		}
		if !covered {
			return false
		}
	}
	return true
}

// TeachesSubject reports whether any assignment touches the subject in the branch,
// regardless of batch.
func TeachesSubject(assignments []FacultyAssignment, branchID, subjectID string) bool {
	for _, a := range assignments {
		if a.BranchID == branchID && a.SubjectID == subjectID {
			return true
		}
	}
	return false
}
