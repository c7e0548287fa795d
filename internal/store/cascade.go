package store

import "database/sql"

// DeleteBranchData removes every row owned by a branch in one transaction:
// chat sessions (with their messages, summaries and agent runs), task
// instructions, branch links and instructions-log rows.
func (s *Store) DeleteBranchData(repoID, branchName string) error {
	return s.withTx(func(tx *sql.Tx) error {
		rows, err := tx.Query(`SELECT id FROM chat_sessions WHERE branch_name = ?`, branchName)
		if err != nil {
			return err
		}
		var sessionIDs []string
		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return err
			}
			sessionIDs = append(sessionIDs, id)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}

		for _, id := range sessionIDs {
			if _, err := tx.Exec(`DELETE FROM chat_messages WHERE session_id = ?`, id); err != nil {
				return err
			}
			if _, err := tx.Exec(`DELETE FROM chat_summaries WHERE session_id = ?`, id); err != nil {
				return err
			}
			if _, err := tx.Exec(`DELETE FROM agent_runs WHERE chat_session_id = ?`, id); err != nil {
				return err
			}
		}
		if _, err := tx.Exec(`DELETE FROM chat_sessions WHERE branch_name = ?`, branchName); err != nil {
			return err
		}
		if _, err := tx.Exec(`DELETE FROM task_instructions WHERE repo_id = ? AND branch_name = ?`, repoID, branchName); err != nil {
			return err
		}
		if _, err := tx.Exec(`DELETE FROM branch_links WHERE repo_id = ? AND branch_name = ?`, repoID, branchName); err != nil {
			return err
		}
		if _, err := tx.Exec(`DELETE FROM instructions_log WHERE repo_id = ? AND branch_name = ?`, repoID, branchName); err != nil {
			return err
		}
		return nil
	})
}

// DeleteOrphanedBranchData removes chat sessions, task instructions, branch
// links and instructions-log rows whose branch is not in the live set.
// Returns how many branches were cleaned.
func (s *Store) DeleteOrphanedBranchData(repoID string, liveBranches []string) (int, error) {
	live := make(map[string]bool, len(liveBranches))
	for _, b := range liveBranches {
		live[b] = true
	}

	orphans := make(map[string]bool)
	collect := func(query string) error {
		rows, err := s.db.Query(query, repoID)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var branch string
			if err := rows.Scan(&branch); err != nil {
				return err
			}
			if branch != "" && !live[branch] {
				orphans[branch] = true
			}
		}
		return rows.Err()
	}

	// Chat sessions have no repo column; their branches are matched through
	// the repo's branch_links and instructions tables plus their own set.
	if err := collect(`SELECT DISTINCT branch_name FROM branch_links WHERE repo_id = ?`); err != nil {
		return 0, err
	}
	if err := collect(`SELECT DISTINCT branch_name FROM task_instructions WHERE repo_id = ?`); err != nil {
		return 0, err
	}
	if err := collect(`SELECT DISTINCT branch_name FROM instructions_log WHERE repo_id = ?`); err != nil {
		return 0, err
	}

	rows, err := s.db.Query(`SELECT DISTINCT branch_name FROM chat_sessions`)
	if err != nil {
		return 0, err
	}
	for rows.Next() {
		var branch string
		if err := rows.Scan(&branch); err != nil {
			rows.Close()
			return 0, err
		}
		if branch != "" && !live[branch] {
			orphans[branch] = true
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}

	for branch := range orphans {
		if err := s.DeleteBranchData(repoID, branch); err != nil {
			return 0, err
		}
	}
	return len(orphans), nil
}
